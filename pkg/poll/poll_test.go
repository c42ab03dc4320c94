package poll_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/pkg/errors"

	"github.com/solo-io/kubedebug/pkg/poll"
)

var _ = Describe("Policy", func() {
	var policy poll.Policy

	BeforeEach(func() {
		policy = poll.NewPolicy(3, time.Millisecond)
	})

	It("should be ready once the condition holds", func() {
		calls := 0
		res, err := policy.Until(context.Background(), func(context.Context) (bool, error) {
			calls++
			return calls == 2, nil
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(res).To(Equal(poll.Ready))
		Expect(calls).To(Equal(2))
	})

	It("should time out after exactly the configured attempts", func() {
		calls := 0
		res, err := policy.Until(context.Background(), func(context.Context) (bool, error) {
			calls++
			return false, nil
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(res).To(Equal(poll.TimedOut))
		Expect(calls).To(Equal(3))
	})

	It("should stop on the first condition error", func() {
		calls := 0
		boom := errors.New("boom")
		_, err := policy.Until(context.Background(), func(context.Context) (bool, error) {
			calls++
			return false, boom
		})
		Expect(errors.Is(err, boom)).To(BeTrue())
		Expect(calls).To(Equal(1))
	})

	It("should honour cancellation", func() {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		res, err := poll.NewPolicy(100, time.Hour).Until(ctx, func(context.Context) (bool, error) {
			return false, nil
		})
		Expect(res).To(Equal(poll.TimedOut))
		Expect(err).To(Equal(context.Canceled))
	})

	It("should check at least once with a zero budget", func() {
		calls := 0
		res, _ := poll.NewPolicy(0, time.Millisecond).Until(context.Background(), func(context.Context) (bool, error) {
			calls++
			return true, nil
		})
		Expect(res).To(Equal(poll.Ready))
		Expect(calls).To(Equal(1))
	})

	It("should report its budget", func() {
		Expect(poll.NewPolicy(4, time.Second).Budget()).To(Equal(3 * time.Second))
	})
})
