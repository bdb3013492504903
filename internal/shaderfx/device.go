package shaderfx

import (
	"fmt"
	"strings"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"
	"github.com/rs/zerolog/log"

	// Vulkan registers itself via init().
	_ "github.com/gogpu/wgpu/hal/vulkan"
)

// Device is an open HAL device with its queue.
type Device struct {
	Device   hal.Device
	Queue    hal.Queue
	Name     string
	instance hal.Instance
}

// OpenDevice opens a device on the named backend: "vulkan" or "noop".
// Discrete and integrated GPUs are preferred over software adapters.
func OpenDevice(backend string) (*Device, error) {
	var instance hal.Instance
	var err error
	switch strings.ToLower(backend) {
	case "noop":
		api := noop.API{}
		instance, err = api.CreateInstance(nil)
	case "", "vulkan":
		b, ok := hal.GetBackend(gputypes.BackendVulkan)
		if !ok {
			return nil, fmt.Errorf("vulkan backend not available")
		}
		instance, err = b.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	default:
		return nil, fmt.Errorf("unknown gpu backend %q", backend)
	}
	if err != nil {
		return nil, fmt.Errorf("create instance: %w", err)
	}

	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, fmt.Errorf("no GPU adapters found")
	}
	selected := &adapters[0]
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}
	open, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("open device: %w", err)
	}
	log.Info().Str("backend", backend).Str("adapter", selected.Info.Name).Msg("gpu device opened")
	return &Device{Device: open.Device, Queue: open.Queue, Name: selected.Info.Name, instance: instance}, nil
}

// Close destroys the device and its instance.
func (d *Device) Close() {
	if d == nil {
		return
	}
	if d.Device != nil {
		d.Device.Destroy()
	}
	if d.instance != nil {
		d.instance.Destroy()
	}
}
