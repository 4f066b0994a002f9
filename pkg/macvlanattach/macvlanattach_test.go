package macvlanattach_test

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/vishvananda/netlink"

	"github.com/jhamlin96/netavark/pkg/corerr"
	"github.com/jhamlin96/netavark/pkg/macvlanattach"
	"github.com/jhamlin96/netavark/pkg/netlinkopstest"
)

var _ = Describe("Attach", func() {
	It("creates a macvlan child of an up master in the default mode", func() {
		ops := netlinkopstest.New()
		ops.SeedLink("eth0", true)

		res, err := macvlanattach.Attach(ops, "eth0", 42, macvlanattach.Options{})

		Expect(err).NotTo(HaveOccurred())
		Expect(res.ContainerTmpIfName).NotTo(BeEmpty())
		Expect(ops.HasLink(res.ContainerTmpIfName)).To(BeTrue())
	})

	It("rejects a master that does not exist as a host setup failure", func() {
		ops := netlinkopstest.New()

		_, err := macvlanattach.Attach(ops, "eth0", 42, macvlanattach.Options{})

		Expect(err).To(HaveOccurred())
		Expect(corerr.Is(err, corerr.HostSetupFailed)).To(BeTrue())
		Expect(corerr.Is(err, corerr.InvalidRequest)).To(BeFalse())
	})

	It("rejects a master that is not up as a host setup failure", func() {
		ops := netlinkopstest.New()
		ops.SeedLink("eth0", false)

		_, err := macvlanattach.Attach(ops, "eth0", 42, macvlanattach.Options{})

		Expect(err).To(HaveOccurred())
		Expect(corerr.Is(err, corerr.HostSetupFailed)).To(BeTrue())
		Expect(corerr.Is(err, corerr.InvalidRequest)).To(BeFalse())
	})

	It("honors an explicit mode override", func() {
		ops := netlinkopstest.New()
		ops.SeedLink("eth0", true)

		_, err := macvlanattach.Attach(ops, "eth0", 42, macvlanattach.Options{Mode: netlink.MACVLAN_MODE_VEPA})

		Expect(err).NotTo(HaveOccurred())
	})

	It("surfaces the underlying failure when macvlan creation fails", func() {
		ops := netlinkopstest.New()
		ops.SeedLink("eth0", true)
		ops.FailAddMacvlan = true

		_, err := macvlanattach.Attach(ops, "eth0", 42, macvlanattach.Options{})

		Expect(err).To(HaveOccurred())
	})
})
