package session_test

import (
	"context"
	"path/filepath"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/pkg/errors"

	"github.com/solo-io/kubedebug/pkg/platforms/fake"
	"github.com/solo-io/kubedebug/pkg/session"
)

var _ = Describe("Provisioner", func() {
	var (
		ctx context.Context
		gw  *fake.Gateway
		s   *session.Session
		p   *session.Provisioner
	)

	BeforeEach(func() {
		ctx = context.Background()
		gw = fake.NewGateway()
		gw.AddPod("app-7f9c", "app", "app")
		s = resolvedSession("app-7f9c")
		p = session.NewProvisioner(gw)
	})

	It("should upload the debugger when it is absent", func() {
		uploaded, err := p.Ensure(ctx, s)
		Expect(err).NotTo(HaveOccurred())
		Expect(uploaded).To(BeTrue())
		Expect(s.Provisioned()).To(BeTrue())
		Expect(gw.HasFile("app-7f9c", "app", "/tmp/dlv")).To(BeTrue())

		cp := gw.CallsTo("CopyToContainer")
		Expect(cp).To(HaveLen(1))
		Expect(cp[0].Args).To(Equal([]string{localDlv, "/tmp/dlv"}))
	})

	It("should not upload twice", func() {
		_, err := p.Ensure(ctx, s)
		Expect(err).NotTo(HaveOccurred())
		uploaded, err := p.Ensure(ctx, s)
		Expect(err).NotTo(HaveOccurred())
		Expect(uploaded).To(BeFalse())
		Expect(gw.CallsTo("CopyToContainer")).To(HaveLen(1))
	})

	It("should reuse a binary left by an earlier run", func() {
		gw.Pods["app-7f9c"].Containers["app"].Files["/tmp/dlv"] = true
		uploaded, err := p.Ensure(ctx, s)
		Expect(err).NotTo(HaveOccurred())
		Expect(uploaded).To(BeFalse())
		Expect(s.Provisioned()).To(BeTrue())
		Expect(gw.CallsTo("CopyToContainer")).To(BeEmpty())
	})

	It("should fail without a local binary", func() {
		s.DebuggerLocalPath = filepath.Join(tmpDir, "missing")
		_, err := p.Ensure(ctx, s)
		Expect(session.IsKind(err, session.ProvisionError)).To(BeTrue())
		Expect(err.Error()).To(ContainSubstring("local debugger binary"))
		Expect(gw.CallsTo("CopyToContainer")).To(BeEmpty())
	})

	It("should fail when the copy fails", func() {
		gw.CopyErr = errors.New("tar: not found")
		_, err := p.Ensure(ctx, s)
		Expect(session.IsKind(err, session.ProvisionError)).To(BeTrue())
		Expect(err.Error()).To(ContainSubstring("tar: not found"))
		Expect(s.Provisioned()).To(BeFalse())
	})

	It("should fail without a resolved pod", func() {
		_, err := p.Ensure(ctx, newSession())
		Expect(session.IsKind(err, session.ProvisionError)).To(BeTrue())
		Expect(gw.Calls()).To(BeEmpty())
	})
})
