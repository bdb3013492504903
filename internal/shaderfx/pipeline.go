package shaderfx

import (
	"errors"
	"fmt"
	"sync"
	"time"
	"unsafe"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/naga"
	"github.com/gogpu/wgpu/hal"
	"github.com/rs/zerolog/log"

	"github.com/local/spreadview/internal/metrics"
	"github.com/local/spreadview/internal/raster"
)

const (
	targetFormat       = gputypes.TextureFormatRGBA8Unorm
	copyPitchAlignment = 256
	submitPollInterval = time.Millisecond

	DefaultStrength = 0.8
)

var submitTimeout = 5 * time.Second

type program struct {
	module   hal.ShaderModule
	pipeline hal.RenderPipeline
	err      error
}

// Pipeline runs library filters on a HAL device: upload the raster as a
// texture, draw a full-screen quad with the filter's fragment stage into an
// off-screen target and read the result back.
type Pipeline struct {
	mu     sync.Mutex
	device hal.Device
	queue  hal.Queue
	lib    *Library

	strength float32
	seed     float32
	start    time.Time

	// created once by ensureInit
	ready      bool
	quad       hal.Buffer
	uniforms   hal.Buffer
	sampler    hal.Sampler
	bindLayout hal.BindGroupLayout
	pipeLayout hal.PipelineLayout

	// sized to the last raster by ensureTarget
	width, height uint32
	input         hal.Texture
	inputView     hal.TextureView
	target        hal.Texture
	targetView    hal.TextureView

	programs map[string]*program
	progGen  uint64
}

// Options tunes the uniforms handed to every filter.
type Options struct {
	Strength float32
	Seed     float32
}

// NewPipeline wraps an open device. No GPU work happens until the first Apply.
func NewPipeline(device hal.Device, queue hal.Queue, lib *Library, opts Options) *Pipeline {
	if opts.Strength <= 0 {
		opts.Strength = DefaultStrength
	}
	return &Pipeline{
		device:   device,
		queue:    queue,
		lib:      lib,
		strength: opts.Strength,
		seed:     opts.Seed,
		start:    time.Now(),
		programs: map[string]*program{},
	}
}

// Library returns the shader library the pipeline draws from.
func (p *Pipeline) Library() *Library { return p.lib }

// Has reports whether name is a known filter.
func (p *Pipeline) Has(name string) bool { return p.lib != nil && p.lib.Has(name) }

// Reload rereads the shader directory and forgets every compiled program,
// including failed ones.
func (p *Pipeline) Reload() error {
	if p.lib == nil {
		return nil
	}
	if err := p.lib.Reload(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dropPrograms()
	return nil
}

// Apply runs the named filter on r. Unknown names return r unchanged.
func (p *Pipeline) Apply(name string, r *raster.Raster) (*raster.Raster, error) {
	src, ok := "", false
	if p.lib != nil {
		src, ok = p.lib.Source(name)
	}
	if !ok {
		return r, nil
	}
	if !r.Valid() {
		return nil, ErrInvalidRaster
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	start := time.Now()
	if err := p.ensureInit(); err != nil {
		return nil, err
	}
	w, h := uint32(r.W), uint32(r.H) //nolint:gosec // raster dimensions fit uint32
	if err := p.ensureTarget(w, h); err != nil {
		return nil, err
	}
	prog, err := p.program(name, src)
	if err != nil {
		return nil, err
	}

	if err := p.upload(r); err != nil {
		return nil, err
	}
	if err := p.queue.WriteBuffer(p.uniforms, 0, uniformBytes(float32(time.Since(p.start).Seconds()), p.seed, p.strength)); err != nil {
		return nil, resourceErr("write uniforms", err)
	}

	pix, err := p.drawAndReadback(prog, w, h)
	if err != nil {
		return nil, err
	}
	out := &raster.Raster{W: r.W, H: r.H, Pix: pix}
	metrics.ObserveFilter("shader", time.Since(start))
	return out, nil
}

// ensureInit creates the size-independent resources once.
func (p *Pipeline) ensureInit() error {
	if p.ready {
		return nil
	}
	quad, err := p.createBuffer("shaderfx_quad", quadVertices(), gputypes.BufferUsageVertex|gputypes.BufferUsageCopyDst)
	if err != nil {
		return err
	}
	uniforms, err := p.createBuffer("shaderfx_uniforms", uniformBytes(0, p.seed, p.strength),
		gputypes.BufferUsageUniform|gputypes.BufferUsageCopyDst)
	if err != nil {
		p.device.DestroyBuffer(quad)
		return err
	}

	sampler, err := p.device.CreateSampler(&hal.SamplerDescriptor{
		Label:        "shaderfx_sampler",
		AddressModeU: gputypes.AddressModeClampToEdge,
		AddressModeV: gputypes.AddressModeClampToEdge,
		AddressModeW: gputypes.AddressModeClampToEdge,
		MagFilter:    gputypes.FilterModeNearest,
		MinFilter:    gputypes.FilterModeNearest,
		MipmapFilter: gputypes.FilterModeNearest,
	})
	if err != nil {
		p.device.DestroyBuffer(quad)
		p.device.DestroyBuffer(uniforms)
		return resourceErr("create sampler", err)
	}

	// 0: input texture, 1: sampler, 2: uniforms
	bindLayout, err := p.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label: "shaderfx_bind_layout",
		Entries: []gputypes.BindGroupLayoutEntry{
			{
				Binding:    0,
				Visibility: gputypes.ShaderStageFragment,
				Texture: &gputypes.TextureBindingLayout{
					SampleType:    gputypes.TextureSampleTypeFloat,
					ViewDimension: gputypes.TextureViewDimension2D,
				},
			},
			{
				Binding:    1,
				Visibility: gputypes.ShaderStageFragment,
				Sampler:    &gputypes.SamplerBindingLayout{Type: gputypes.SamplerBindingTypeFiltering},
			},
			{
				Binding:    2,
				Visibility: gputypes.ShaderStageVertex | gputypes.ShaderStageFragment,
				Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform},
			},
		},
	})
	if err != nil {
		p.device.DestroySampler(sampler)
		p.device.DestroyBuffer(quad)
		p.device.DestroyBuffer(uniforms)
		return resourceErr("create bind group layout", err)
	}

	pipeLayout, err := p.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            "shaderfx_pipe_layout",
		BindGroupLayouts: []hal.BindGroupLayout{bindLayout},
	})
	if err != nil {
		p.device.DestroyBindGroupLayout(bindLayout)
		p.device.DestroySampler(sampler)
		p.device.DestroyBuffer(quad)
		p.device.DestroyBuffer(uniforms)
		return resourceErr("create pipeline layout", err)
	}

	p.quad, p.uniforms, p.sampler = quad, uniforms, sampler
	p.bindLayout, p.pipeLayout = bindLayout, pipeLayout
	p.ready = true
	log.Debug().Msg("shader pipeline initialized")
	return nil
}

// ensureTarget (re)allocates the input and target textures when the raster
// size changes.
func (p *Pipeline) ensureTarget(w, h uint32) error {
	if p.target != nil && p.width == w && p.height == h {
		return nil
	}
	p.destroyTextures()

	size := hal.Extent3D{Width: w, Height: h, DepthOrArrayLayers: 1}
	input, inputView, err := p.createTexture("shaderfx_input", size,
		gputypes.TextureUsageTextureBinding|gputypes.TextureUsageCopyDst)
	if err != nil {
		return err
	}
	target, targetView, err := p.createTexture("shaderfx_target", size,
		gputypes.TextureUsageRenderAttachment|gputypes.TextureUsageCopySrc)
	if err != nil {
		p.device.DestroyTextureView(inputView)
		p.device.DestroyTexture(input)
		return err
	}
	p.input, p.inputView = input, inputView
	p.target, p.targetView = target, targetView
	p.width, p.height = w, h
	log.Debug().Uint32("width", w).Uint32("height", h).Msg("shader target allocated")
	return nil
}

func (p *Pipeline) createTexture(label string, size hal.Extent3D, usage gputypes.TextureUsage) (hal.Texture, hal.TextureView, error) {
	tex, err := p.device.CreateTexture(&hal.TextureDescriptor{
		Label:         label,
		Size:          size,
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        targetFormat,
		Usage:         usage,
	})
	if err != nil {
		return nil, nil, resourceErr("create texture "+label, err)
	}
	view, err := p.device.CreateTextureView(tex, &hal.TextureViewDescriptor{
		Label:         label + "_view",
		Format:        targetFormat,
		Dimension:     gputypes.TextureViewDimension2D,
		Aspect:        gputypes.TextureAspectAll,
		MipLevelCount: 1,
	})
	if err != nil {
		p.device.DestroyTexture(tex)
		return nil, nil, resourceErr("create texture view "+label, err)
	}
	return tex, view, nil
}

// program returns the cached program for name, building it on first use.
// Failures are cached too.
func (p *Pipeline) program(name, src string) (*program, error) {
	if gen := p.lib.Generation(); gen != p.progGen {
		p.dropPrograms()
		p.progGen = gen
	}
	if prog, ok := p.programs[name]; ok {
		return prog, prog.err
	}
	prog := p.buildProgram(name, src)
	p.programs[name] = prog
	if prog.err != nil {
		var se *ShaderError
		if errors.As(prog.err, &se) {
			metrics.IncShaderError(se.Filter, se.Stage)
		}
		log.Error().Err(prog.err).Str("filter", name).Msg("shader filter unavailable")
	}
	return prog, prog.err
}

func (p *Pipeline) buildProgram(name, src string) *program {
	code := programSource(src)
	if _, err := naga.Compile(code); err != nil {
		return &program{err: &ShaderError{Filter: name, Stage: "fragment", Log: err.Error()}}
	}
	module, err := p.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  "shaderfx_" + name,
		Source: hal.ShaderSource{WGSL: code},
	})
	if err != nil {
		return &program{err: &ShaderError{Filter: name, Stage: "module", Log: err.Error()}}
	}
	pipeline, err := p.device.CreateRenderPipeline(&hal.RenderPipelineDescriptor{
		Label:  "shaderfx_" + name,
		Layout: p.pipeLayout,
		Vertex: hal.VertexState{
			Module:     module,
			EntryPoint: vertexEntry,
			Buffers:    quadVertexLayout(),
		},
		Fragment: &hal.FragmentState{
			Module:     module,
			EntryPoint: fragmentEntry,
			Targets: []gputypes.ColorTargetState{
				{Format: targetFormat, WriteMask: gputypes.ColorWriteMaskAll},
			},
		},
		Primitive: gputypes.PrimitiveState{
			Topology: gputypes.PrimitiveTopologyTriangleList,
			CullMode: gputypes.CullModeNone,
		},
		Multisample: gputypes.MultisampleState{Count: 1, Mask: 0xFFFFFFFF},
	})
	if err != nil {
		p.device.DestroyShaderModule(module)
		return &program{err: &ShaderError{Filter: name, Stage: "link", Log: err.Error()}}
	}
	log.Debug().Str("filter", name).Msg("shader program built")
	return &program{module: module, pipeline: pipeline}
}

func quadVertexLayout() []gputypes.VertexBufferLayout {
	return []gputypes.VertexBufferLayout{
		{
			ArrayStride: quadVertexStride,
			StepMode:    gputypes.VertexStepModeVertex,
			Attributes: []gputypes.VertexAttribute{
				{Format: gputypes.VertexFormatFloat32x2, Offset: 0, ShaderLocation: 0},
				{Format: gputypes.VertexFormatFloat32x2, Offset: 8, ShaderLocation: 1},
			},
		},
	}
}

// upload expands the RGB raster to RGBA and writes it into the input texture.
func (p *Pipeline) upload(r *raster.Raster) error {
	rgba := make([]byte, r.W*r.H*4)
	for i, j := 0, 0; i < len(r.Pix); i, j = i+3, j+4 {
		rgba[j] = r.Pix[i]
		rgba[j+1] = r.Pix[i+1]
		rgba[j+2] = r.Pix[i+2]
		rgba[j+3] = 0xff
	}
	w, h := uint32(r.W), uint32(r.H) //nolint:gosec // raster dimensions fit uint32
	err := p.queue.WriteTexture(
		&hal.ImageCopyTexture{Texture: p.input, MipLevel: 0},
		rgba,
		&hal.ImageDataLayout{Offset: 0, BytesPerRow: w * 4, RowsPerImage: h},
		&hal.Extent3D{Width: w, Height: h, DepthOrArrayLayers: 1},
	)
	if err != nil {
		return resourceErr("write input texture", err)
	}
	return nil
}

// drawAndReadback renders the quad into the target, copies it to a staging
// buffer and returns top-down RGB rows.
func (p *Pipeline) drawAndReadback(prog *program, w, h uint32) ([]byte, error) {
	bindGroup, err := p.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:  "shaderfx_bind",
		Layout: p.bindLayout,
		Entries: []gputypes.BindGroupEntry{
			{Binding: 0, Resource: gputypes.TextureViewBinding{TextureView: p.inputView.NativeHandle()}},
			{Binding: 1, Resource: gputypes.SamplerBinding{Sampler: p.sampler.NativeHandle()}},
			{Binding: 2, Resource: gputypes.BufferBinding{
				Buffer: p.uniforms.NativeHandle(), Offset: 0, Size: uniformSize,
			}},
		},
	})
	if err != nil {
		return nil, resourceErr("create bind group", err)
	}
	defer p.device.DestroyBindGroup(bindGroup)

	encoder, err := p.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "shaderfx_encoder"})
	if err != nil {
		return nil, resourceErr("create command encoder", err)
	}
	if err := encoder.BeginEncoding("shaderfx"); err != nil {
		return nil, resourceErr("begin encoding", err)
	}

	rp := encoder.BeginRenderPass(&hal.RenderPassDescriptor{
		Label: "shaderfx_pass",
		ColorAttachments: []hal.RenderPassColorAttachment{
			{
				View:       p.targetView,
				LoadOp:     gputypes.LoadOpClear,
				StoreOp:    gputypes.StoreOpStore,
				ClearValue: gputypes.Color{R: 0, G: 0, B: 0, A: 1},
			},
		},
	})
	rp.SetPipeline(prog.pipeline)
	rp.SetBindGroup(0, bindGroup, nil)
	rp.SetVertexBuffer(0, p.quad, 0)
	rp.Draw(quadVertexCount, 1, 0, 0)
	rp.End()

	encoder.TransitionTextures([]hal.TextureBarrier{{
		Texture: p.target,
		Usage: hal.TextureUsageTransition{
			OldUsage: gputypes.TextureUsageRenderAttachment,
			NewUsage: gputypes.TextureUsageCopySrc,
		},
	}})

	bytesPerRow := w * 4
	pitch := (bytesPerRow + copyPitchAlignment - 1) &^ (copyPitchAlignment - 1)
	stagingSize := uint64(pitch) * uint64(h)
	staging, err := p.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "shaderfx_staging",
		Size:  stagingSize,
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		encoder.DiscardEncoding()
		return nil, resourceErr("create staging buffer", err)
	}
	defer p.device.DestroyBuffer(staging)

	encoder.CopyTextureToBuffer(p.target, staging, []hal.BufferTextureCopy{{
		BufferLayout: hal.ImageDataLayout{Offset: 0, BytesPerRow: pitch, RowsPerImage: h},
		TextureBase:  hal.ImageCopyTexture{Texture: p.target, MipLevel: 0},
		Size:         hal.Extent3D{Width: w, Height: h, DepthOrArrayLayers: 1},
	}})

	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		return nil, resourceErr("end encoding", err)
	}
	defer p.device.FreeCommandBuffer(cmdBuf)

	idx, err := p.queue.Submit([]hal.CommandBuffer{cmdBuf})
	if err != nil {
		return nil, resourceErr("submit", err)
	}
	if err := p.waitSubmission(idx); err != nil {
		return nil, err
	}

	mapping, err := p.device.MapBuffer(staging, 0, stagingSize)
	if err != nil {
		return nil, resourceErr("map staging buffer", err)
	}
	defer func() {
		if err := p.device.UnmapBuffer(staging); err != nil {
			log.Warn().Err(err).Msg("unmap staging buffer")
		}
	}()
	readback := unsafe.Slice((*byte)(mapping.Ptr), stagingSize)
	return flipRGBA(readback, int(w), int(h), int(pitch)), nil
}

// waitSubmission blocks until the queue reports idx complete.
func (p *Pipeline) waitSubmission(idx uint64) error {
	deadline := time.Now().Add(submitTimeout)
	for p.queue.PollCompleted() < idx {
		if time.Now().After(deadline) {
			return resourceErr("wait", fmt.Errorf("submission %d not complete after %v", idx, submitTimeout))
		}
		time.Sleep(submitPollInterval)
	}
	return nil
}

// flipRGBA converts padded bottom-up RGBA rows into tight top-down RGB.
func flipRGBA(src []byte, w, h, pitch int) []byte {
	out := make([]byte, w*h*3)
	for y := 0; y < h; y++ {
		row := src[(h-1-y)*pitch:]
		dst := out[y*w*3:]
		for x := 0; x < w; x++ {
			dst[x*3] = row[x*4]
			dst[x*3+1] = row[x*4+1]
			dst[x*3+2] = row[x*4+2]
		}
	}
	return out
}

func (p *Pipeline) createBuffer(label string, data []byte, usage gputypes.BufferUsage) (hal.Buffer, error) {
	buf, err := p.device.CreateBuffer(&hal.BufferDescriptor{
		Label: label,
		Size:  uint64(len(data)),
		Usage: usage,
	})
	if err != nil {
		return nil, resourceErr("create buffer "+label, err)
	}
	if err := p.queue.WriteBuffer(buf, 0, data); err != nil {
		p.device.DestroyBuffer(buf)
		return nil, resourceErr("write buffer "+label, err)
	}
	return buf, nil
}

func (p *Pipeline) dropPrograms() {
	for name, prog := range p.programs {
		if prog.pipeline != nil {
			p.device.DestroyRenderPipeline(prog.pipeline)
		}
		if prog.module != nil {
			p.device.DestroyShaderModule(prog.module)
		}
		delete(p.programs, name)
	}
}

func (p *Pipeline) destroyTextures() {
	if p.targetView != nil {
		p.device.DestroyTextureView(p.targetView)
		p.targetView = nil
	}
	if p.target != nil {
		p.device.DestroyTexture(p.target)
		p.target = nil
	}
	if p.inputView != nil {
		p.device.DestroyTextureView(p.inputView)
		p.inputView = nil
	}
	if p.input != nil {
		p.device.DestroyTexture(p.input)
		p.input = nil
	}
	p.width, p.height = 0, 0
}

// Size returns the current target dimensions.
func (p *Pipeline) Size() (uint32, uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.width, p.height
}

// Close releases every GPU resource. The device itself stays open.
func (p *Pipeline) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dropPrograms()
	p.destroyTextures()
	if !p.ready {
		return
	}
	p.device.DestroyPipelineLayout(p.pipeLayout)
	p.device.DestroyBindGroupLayout(p.bindLayout)
	p.device.DestroySampler(p.sampler)
	p.device.DestroyBuffer(p.uniforms)
	p.device.DestroyBuffer(p.quad)
	p.ready = false
}
