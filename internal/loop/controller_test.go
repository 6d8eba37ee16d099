package loop_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/san-kum/sceneview/internal/loop"
	"github.com/san-kum/sceneview/internal/scene"
)

type trace struct {
	calls []string
}

func (t *trace) add(s string) { t.calls = append(t.calls, s) }

type fakeRenderer struct {
	t      *trace
	w, h   int
	sizes  int
	failAt int
	count  int
}

func (r *fakeRenderer) Render(*scene.Scene, *scene.PerspectiveCamera) error {
	r.count++
	r.t.add("render")
	if r.failAt > 0 && r.count == r.failAt {
		return errors.New("context lost")
	}
	return nil
}

func (r *fakeRenderer) SetSize(w, h int) { r.w, r.h = w, h; r.sizes++ }
func (r *fakeRenderer) Size() (int, int) { return r.w, r.h }

type fakeControls struct{ t *trace }

func (c *fakeControls) Update() bool { c.t.add("update"); return false }

type fakeStepper struct {
	t   *trace
	err error
}

func (s *fakeStepper) Step(context.Context) error {
	s.t.add("step")
	return s.err
}

var _ = Describe("Controller", func() {
	var (
		ctx      context.Context
		tr       *trace
		renderer *fakeRenderer
		stepper  *fakeStepper
		camera   *scene.PerspectiveCamera
		cfg      loop.Config
	)

	BeforeEach(func() {
		ctx = context.Background()
		tr = &trace{}
		renderer = &fakeRenderer{t: tr}
		stepper = &fakeStepper{t: tr}
		camera = scene.NewPerspectiveCamera(45, 4.0/3.0, 0.001, 100)
		cfg = loop.Config{
			Scene:     scene.New(),
			Camera:    camera,
			Renderer:  renderer,
			Controls:  &fakeControls{t: tr},
			Scheduler: loop.NewCounted(3),
			Stepper:   stepper,
		}
	})

	It("rejects missing collaborators", func() {
		cfg.Renderer = nil
		_, err := loop.New(cfg, nil)
		Expect(err).To(MatchError(loop.ErrIncomplete))
	})

	It("starts idle", func() {
		c, err := loop.New(cfg, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(c.State()).To(Equal(loop.Idle))
		Expect(c.Frames()).To(BeZero())
	})

	It("runs one update and one render per slot, update first", func() {
		c, _ := loop.New(cfg, nil)
		Expect(c.Run(ctx)).To(Succeed())

		Expect(tr.calls).To(Equal([]string{
			"update", "render",
			"update", "render",
			"update", "render",
		}))
		Expect(c.Frames()).To(Equal(3))
		Expect(c.State()).To(Equal(loop.Stopped))
	})

	It("steps before updating when stepping is enabled", func() {
		c, _ := loop.New(cfg, nil)
		c.SetStepping(true)
		Expect(c.Run(ctx)).To(Succeed())

		Expect(tr.calls).To(HaveLen(9))
		Expect(tr.calls[:3]).To(Equal([]string{"step", "update", "render"}))
	})

	It("ignores stepping without a stepper", func() {
		cfg.Stepper = nil
		c, _ := loop.New(cfg, nil)
		c.SetStepping(true)
		Expect(c.Stepping()).To(BeFalse())
		Expect(c.Run(ctx)).To(Succeed())
		Expect(tr.calls).NotTo(ContainElement("step"))
	})

	It("reports transitions Idle to Running to Stopped", func() {
		c, _ := loop.New(cfg, nil)
		var seen []loop.State
		c.OnTransition(func(_, to loop.State) { seen = append(seen, to) })

		Expect(c.Run(ctx)).To(Succeed())
		Expect(seen).To(Equal([]loop.State{loop.Running, loop.Stopped}))
		Expect(c.Starts()).To(Equal(1))
	})

	It("fails on a render error and keeps the cause", func() {
		renderer.failAt = 2
		c, _ := loop.New(cfg, nil)

		err := c.Run(ctx)
		var fe *loop.FrameError
		Expect(errors.As(err, &fe)).To(BeTrue())
		Expect(fe.Frame).To(Equal(1))
		Expect(fe.Phase).To(Equal("render"))
		Expect(c.State()).To(Equal(loop.Failed))
		Expect(c.Err()).To(Equal(err))
		Expect(c.Frames()).To(Equal(1))
	})

	It("fails on a step error before rendering", func() {
		stepper.err = errors.New("unstable")
		c, _ := loop.New(cfg, nil)
		c.SetStepping(true)

		err := c.Run(ctx)
		Expect(err).To(MatchError(stepper.err))
		Expect(c.State()).To(Equal(loop.Failed))
		Expect(tr.calls).To(Equal([]string{"step"}))
	})

	It("can be restarted after failing", func() {
		renderer.failAt = 1
		cfg.Scheduler = loop.NewCounted(4)
		c, _ := loop.New(cfg, nil)

		Expect(c.Run(ctx)).NotTo(Succeed())
		Expect(c.Run(ctx)).To(Succeed())
		Expect(c.State()).To(Equal(loop.Stopped))
		Expect(c.Err()).To(BeNil())
		Expect(c.Starts()).To(Equal(2))
		Expect(c.Frames()).To(Equal(3))
	})

	It("stops at the next slot boundary", func() {
		c, _ := loop.New(cfg, nil)
		c.OnFrame(func(f loop.Frame) {
			if f.Index == 0 {
				c.Stop()
			}
		})

		Expect(c.Run(ctx)).To(Succeed())
		Expect(c.Frames()).To(Equal(1))
		Expect(c.State()).To(Equal(loop.Stopped))
	})

	It("honours a Stop issued before Run", func() {
		ticker := loop.NewTicker(time.Millisecond)
		DeferCleanup(ticker.Close)
		cfg.Scheduler = ticker
		c, _ := loop.New(cfg, nil)

		c.Stop()
		cctx, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
		defer cancel()

		Expect(c.Run(cctx)).To(Succeed())
		Expect(c.Frames()).To(BeZero())
		Expect(c.State()).To(Equal(loop.Stopped))

		By("consuming the request")
		cfg2 := cfg
		cfg2.Scheduler = loop.NewCounted(2)
		c2, _ := loop.New(cfg2, nil)
		c2.Stop()
		Expect(c2.Run(ctx)).To(Succeed())
		Expect(c2.Run(ctx)).To(Succeed())
		Expect(c2.Frames()).To(Equal(2))
	})

	It("refuses to run after Close", func() {
		c, _ := loop.New(cfg, nil)
		c.Close()

		Expect(c.Run(ctx)).To(MatchError(loop.ErrClosed))
		Expect(c.Starts()).To(BeZero())
		Expect(c.State()).To(Equal(loop.Idle))
		Expect(tr.calls).To(BeEmpty())
	})

	It("ends a running loop on Close", func() {
		ticker := loop.NewTicker(time.Millisecond)
		DeferCleanup(ticker.Close)
		cfg.Scheduler = ticker
		c, _ := loop.New(cfg, nil)

		done := make(chan error, 1)
		go func() { done <- c.Run(ctx) }()
		Eventually(c.Frames).Should(BeNumerically(">", 0))

		c.Close()
		Eventually(done).Should(Receive(BeNil()))
		Expect(c.Run(ctx)).To(MatchError(loop.ErrClosed))
	})

	It("rejects a concurrent Run", func() {
		release := make(chan struct{})
		entered := make(chan struct{}, 1)
		cfg.Scheduler = loop.SchedulerFunc(func(ctx context.Context) bool {
			select {
			case entered <- struct{}{}:
			default:
			}
			<-release
			return false
		})
		c, _ := loop.New(cfg, nil)

		done := make(chan error, 1)
		go func() { done <- c.Run(ctx) }()
		Eventually(entered).Should(Receive())

		Expect(c.Run(ctx)).To(MatchError(loop.ErrAlreadyRunning))
		close(release)
		Eventually(done).Should(Receive(BeNil()))
	})

	It("returns the context error when canceled", func() {
		ticker := loop.NewTicker(time.Hour)
		DeferCleanup(ticker.Close)
		cfg.Scheduler = ticker
		c, _ := loop.New(cfg, nil)

		cctx, cancel := context.WithCancel(ctx)
		cancel()
		Expect(c.Run(cctx)).To(MatchError(context.Canceled))
		Expect(c.State()).To(Equal(loop.Stopped))
	})

	Describe("Resize", func() {
		It("updates aspect and surface size only", func() {
			c, _ := loop.New(cfg, nil)
			pos := camera.Position
			fov := camera.FOV

			Expect(c.Resize(1920, 1080)).To(BeTrue())
			Expect(camera.Aspect).To(BeNumerically("~", 1920.0/1080.0, 1e-6))
			Expect(renderer.w).To(Equal(1920))
			Expect(renderer.h).To(Equal(1080))
			Expect(camera.Position).To(Equal(pos))
			Expect(camera.FOV).To(Equal(fov))
			Expect(tr.calls).To(BeEmpty())
		})

		It("ignores degenerate sizes", func() {
			c, _ := loop.New(cfg, nil)
			Expect(c.Resize(0, 500)).To(BeFalse())
			Expect(renderer.sizes).To(BeZero())
			Expect(camera.Aspect).To(BeNumerically("~", 4.0/3.0, 1e-6))
		})
	})
})

var _ = Describe("Schedulers", func() {
	It("Counted yields exactly n slots", func() {
		s := loop.NewCounted(2)
		ctx := context.Background()
		Expect(s.Next(ctx)).To(BeTrue())
		Expect(s.Next(ctx)).To(BeTrue())
		Expect(s.Next(ctx)).To(BeFalse())
		Expect(s.Next(ctx)).To(BeFalse())
	})

	It("Ticker yields until closed", func() {
		s := loop.NewTicker(time.Millisecond)
		Expect(s.Next(context.Background())).To(BeTrue())
		s.Close()
		s.Close()
		Expect(s.Next(context.Background())).To(BeFalse())
	})
})
