package session_test

import (
	"context"
	"sync"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/pkg/errors"

	"github.com/solo-io/kubedebug/pkg/platforms/fake"
	"github.com/solo-io/kubedebug/pkg/poll"
	"github.com/solo-io/kubedebug/pkg/rebuild"
	"github.com/solo-io/kubedebug/pkg/session"
)

type stubWatcher struct {
	fire     chan struct{}
	mu       sync.Mutex
	accepted int
}

func (w *stubWatcher) WaitForChange(ctx context.Context) error {
	select {
	case <-w.fire:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *stubWatcher) Accept() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.accepted++
}

func (w *stubWatcher) Accepted() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.accepted
}

// publishedBuilder pretends every build and push succeeds.
type publishedBuilder struct{}

func (publishedBuilder) Build(ctx context.Context, dockerfile, contextDir string, ref rebuild.ImageRef) error {
	return nil
}

func (publishedBuilder) Push(ctx context.Context, ref rebuild.ImageRef) error {
	return nil
}

type rebuildFunc func(ctx context.Context, s *session.Session) error

func (f rebuildFunc) Rebuild(ctx context.Context, s *session.Session) error {
	return f(ctx, s)
}

var _ = Describe("Driver", func() {
	var (
		ctx        context.Context
		gw         *fake.Gateway
		s          *session.Session
		driver     *session.Driver
		interrupts chan struct{}
		ready      chan string
		decisions  []session.Decision
	)

	BeforeEach(func() {
		ctx = context.Background()
		gw = fake.NewGateway()
		gw.AddPod("app-7f9c", "app", "app")
		s = newSession()
		interrupts = make(chan struct{})
		ready = make(chan string, 10)
		decisions = nil

		driver = session.NewDriver(gw, s, session.Config{PollPolicy: fastPolicy, AttachPolicy: fastPolicy})
		driver.Interrupts = interrupts
		driver.Relay.Probe = func(ctx context.Context, addr string) error {
			ready <- s.Pod()
			return nil
		}
		driver.Decider = session.DecideFunc(func(ctx context.Context) (session.Decision, error) {
			if len(decisions) == 0 {
				return session.Exit, nil
			}
			d := decisions[0]
			decisions = decisions[1:]
			return d, nil
		})
	})

	// interruptWhenReady interrupts the relay each time it comes up, n times.
	interruptWhenReady := func(n int) {
		go func() {
			defer GinkgoRecover()
			for i := 0; i < n; i++ {
				<-ready
				interrupts <- struct{}{}
			}
		}()
	}

	It("should debug, clean up and exit cleanly", func() {
		interruptWhenReady(1)
		Expect(driver.Run(ctx)).To(Succeed())

		Expect(driver.History()).To(Equal([]session.State{
			session.Resolving, session.Verifying, session.Provisioning, session.Locating,
			session.Attaching, session.Relaying, session.AwaitingDecision, session.CleaningUp,
		}))
		Expect(s.Pod()).To(Equal("app-7f9c"))
		Expect(gw.CallsTo("PortForward")[0].Args).To(Equal([]string{"2345", "2345"}))
		Expect(gw.HasFile("app-7f9c", "app", "/tmp/dlv")).To(BeFalse())
		Expect(gw.Processes("app-7f9c", "app")).To(Equal([]string{"app"}))
		for _, t := range gw.Tasks() {
			Expect(t.Finished()).To(BeTrue(), t.Kind)
		}
	})

	It("should resume relaying when asked to", func() {
		decisions = []session.Decision{session.Resume}
		interruptWhenReady(2)
		Expect(driver.Run(ctx)).To(Succeed())
		Expect(driver.History()).To(Equal([]session.State{
			session.Resolving, session.Verifying, session.Provisioning, session.Locating,
			session.Attaching, session.Relaying, session.AwaitingDecision,
			session.Relaying, session.AwaitingDecision, session.CleaningUp,
		}))
		Expect(gw.CallsTo("ExecBackground")).To(HaveLen(1))
		Expect(gw.CallsTo("PortForward")).To(HaveLen(2))
	})

	It("should fail on an ambiguous pod without touching the cluster", func() {
		gw.AddPod("app-8a1b", "app", "app")
		err := driver.Run(ctx)
		Expect(session.IsKind(err, session.ResolutionError)).To(BeTrue())
		Expect(driver.History()).To(Equal([]session.State{session.Resolving, session.CleaningUp}))
		for _, c := range gw.Calls() {
			Expect(c.Op).To(Equal("ListPods"))
		}
	})

	It("should stop before provisioning when the container is missing", func() {
		s.Container = "sidecar"
		err := driver.Run(ctx)
		Expect(session.IsKind(err, session.PreconditionError)).To(BeTrue())
		Expect(gw.CallsTo("Exec")).To(BeEmpty())
		Expect(gw.CallsTo("CopyToContainer")).To(BeEmpty())
	})

	It("should reuse a debugger that is already attached", func() {
		gw.Pods["app-7f9c"].Containers["app"].Files["/tmp/dlv"] = true
		gw.AddProcess("app-7f9c", "app", "dlv")
		interruptWhenReady(1)
		Expect(driver.Run(ctx)).To(Succeed())
		Expect(gw.CallsTo("ExecBackground")).To(BeEmpty())
		Expect(gw.CallsTo("CopyToContainer")).To(BeEmpty())
		Expect(gw.CallsTo("PortForward")).To(HaveLen(1))
		// not ours to remove
		Expect(gw.Processes("app-7f9c", "app")).To(ContainElement("dlv"))
		Expect(gw.HasFile("app-7f9c", "app", "/tmp/dlv")).To(BeTrue())
	})

	It("should clean up when attaching fails", func() {
		gw.StartDebugger = -1
		err := driver.Run(ctx)
		Expect(session.IsKind(err, session.AttachError)).To(BeTrue())
		Expect(driver.History()).To(ContainElement(session.CleaningUp))
		Expect(gw.HasFile("app-7f9c", "app", "/tmp/dlv")).To(BeFalse())
	})

	It("should clean up and fail when interrupted outside the relay", func() {
		gw.StartDebugger = -1
		driver.Attacher = session.NewAttacher(gw, driver.Locator, poll.NewPolicy(1000, 5*time.Millisecond))
		go func() {
			defer GinkgoRecover()
			Eventually(func() int { return len(gw.CallsTo("ExecBackground")) }).Should(Equal(1))
			interrupts <- struct{}{}
		}()
		err := driver.Run(ctx)
		Expect(errors.Is(err, session.ErrInterrupted)).To(BeTrue())
		Expect(gw.HasFile("app-7f9c", "app", "/tmp/dlv")).To(BeFalse())
		Expect(gw.Tasks()[0].Finished()).To(BeTrue())
	})

	Context("with rebuilds", func() {
		var (
			watcher  *stubWatcher
			rebuilds int
		)

		BeforeEach(func() {
			rebuilds = 0
			watcher = &stubWatcher{fire: make(chan struct{}, 1)}
			driver.Watcher = watcher
			gw.OnDelete = func(g *fake.Gateway, pod string) {
				g.AddPod("app-8a1b", "app", "app")
			}
			driver.Rebuilder = rebuildFunc(func(ctx context.Context, s *session.Session) error {
				rebuilds++
				if err := driver.Cleaner.Cleanup(ctx, s); err != nil {
					return err
				}
				if err := gw.DeletePod(ctx, s.Namespace, s.Pod()); err != nil {
					return err
				}
				pod, err := driver.Resolver.Resolve(ctx, s.Namespace, s.PodPrefix)
				if err != nil {
					return err
				}
				s.SetPod(pod)
				return nil
			})
		})

		It("should rebuild and debug the replacement pod", func() {
			go func() {
				defer GinkgoRecover()
				Expect(<-ready).To(Equal("app-7f9c"))
				watcher.fire <- struct{}{}
				Expect(<-ready).To(Equal("app-8a1b"))
				interrupts <- struct{}{}
			}()
			Expect(driver.Run(ctx)).To(Succeed())

			Expect(rebuilds).To(Equal(1))
			Expect(watcher.Accepted()).To(Equal(1))
			Expect(driver.History()).To(Equal([]session.State{
				session.Resolving, session.Verifying, session.Provisioning, session.Locating,
				session.Attaching, session.Relaying, session.Rebuilding,
				session.Verifying, session.Provisioning, session.Locating,
				session.Attaching, session.Relaying, session.AwaitingDecision, session.CleaningUp,
			}))

			// nothing touches the stale pod once it is gone
			for _, c := range gw.CallsAfter("DeletePod") {
				Expect(c.Pod).NotTo(Equal("app-7f9c"), c.String())
			}
			Expect(gw.CallsTo("CopyToContainer")).To(HaveLen(2))
			Expect(gw.HasFile("app-8a1b", "app", "/tmp/dlv")).To(BeFalse())
			Expect(gw.Processes("app-8a1b", "app")).To(Equal([]string{"app"}))
		})

		It("should rebuild when the operator asks for it", func() {
			decisions = []session.Decision{session.RebuildNow}
			interruptWhenReady(2)
			Expect(driver.Run(ctx)).To(Succeed())
			Expect(rebuilds).To(Equal(1))
			Expect(s.Pod()).To(Equal("app-8a1b"))
		})

		It("should resume the current session when the build fails", func() {
			driver.Rebuilder = rebuildFunc(func(ctx context.Context, s *session.Session) error {
				rebuilds++
				return session.Errorf(session.RebuildError, "registry.local/app", "docker build exited with 1")
			})
			go func() {
				defer GinkgoRecover()
				<-ready
				watcher.fire <- struct{}{}
				<-ready
				interrupts <- struct{}{}
			}()
			Expect(driver.Run(ctx)).To(Succeed())
			Expect(rebuilds).To(Equal(1))
			Expect(watcher.Accepted()).To(Equal(1))
			Expect(s.Pod()).To(Equal("app-7f9c"))
			Expect(gw.CallsTo("ExecBackground")).To(HaveLen(1))
			Expect(driver.History()).To(ContainElement(session.Rebuilding))
		})

		It("should give up when the rebuild fails after releasing the session", func() {
			driver.Rebuilder = rebuildFunc(func(ctx context.Context, s *session.Session) error {
				Expect(driver.Cleaner.Cleanup(ctx, s)).To(Succeed())
				return session.Errorf(session.RebuildError, "app", "patching deployment: forbidden")
			})
			go func() {
				defer GinkgoRecover()
				<-ready
				watcher.fire <- struct{}{}
			}()
			err := driver.Run(ctx)
			Expect(session.IsKind(err, session.RebuildError)).To(BeTrue())
		})

		It("should leave an adopted debugger in place when the rebuild fails after releasing it", func() {
			gw.Pods["app-7f9c"].Containers["app"].Files["/tmp/dlv"] = true
			gw.AddProcess("app-7f9c", "app", "dlv")
			gw.EditErr = errors.New("deployments.apps \"app\" is forbidden")
			driver.Rebuilder = rebuild.NewOrchestrator(gw, publishedBuilder{}, driver.Cleaner, driver.Resolver, rebuild.Config{
				Dockerfile:  "Dockerfile",
				ContextDir:  ".",
				Repository:  "registry.local/app",
				ReadyPolicy: fastPolicy,
			})
			go func() {
				defer GinkgoRecover()
				<-ready
				watcher.fire <- struct{}{}
			}()
			err := driver.Run(ctx)
			Expect(session.IsKind(err, session.RebuildError)).To(BeTrue())
			Expect(err.Error()).To(ContainSubstring("forbidden"))
			Expect(driver.History()).To(HaveLen(8))
			Expect(driver.History()[7]).To(Equal(session.CleaningUp))
			Expect(gw.HasFile("app-7f9c", "app", "/tmp/dlv")).To(BeTrue())
			Expect(gw.Processes("app-7f9c", "app")).To(ContainElement("dlv"))
			for _, c := range gw.CallsTo("Exec") {
				Expect(c.Args[0]).NotTo(Equal("rm"), c.String())
				Expect(c.Args[0]).NotTo(Equal("kill"), c.String())
			}
		})
	})
})
