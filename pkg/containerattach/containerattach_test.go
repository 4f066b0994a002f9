package containerattach_test

import (
	"net"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/jhamlin96/netavark/pkg/containerattach"
	"github.com/jhamlin96/netavark/pkg/corerr"
	"github.com/jhamlin96/netavark/pkg/netlinkopstest"
	"github.com/jhamlin96/netavark/pkg/netmodel"
)

var _ = Describe("Configure", func() {
	It("renames, addresses, routes, and brings up the container interface", func() {
		ops := netlinkopstest.New()
		ops.SeedLink("tmp1234", false)

		_, addr, _ := net.ParseCIDR("10.88.0.5/24")
		addr.IP = net.ParseIP("10.88.0.5")
		addrs := []netmodel.NetAddress{
			{IPNet: addr, Gateway: net.ParseIP("10.88.0.1")},
		}

		mac, err := containerattach.Configure(ops, "tmp1234", "eth0", addrs)

		Expect(err).NotTo(HaveOccurred())
		Expect(mac).NotTo(BeEmpty())
		Expect(ops.HasLink("eth0")).To(BeTrue())
		Expect(ops.HasLink("tmp1234")).To(BeFalse())
		Expect(ops.Addrs("eth0")).To(HaveLen(1))
		Expect(ops.HasLink("lo")).To(BeTrue())
	})

	It("skips route installation for subnets without a gateway", func() {
		ops := netlinkopstest.New()
		ops.SeedLink("tmp1234", false)

		_, addr, _ := net.ParseCIDR("10.88.0.5/24")
		addrs := []netmodel.NetAddress{{IPNet: addr}}

		_, err := containerattach.Configure(ops, "tmp1234", "eth0", addrs)

		Expect(err).NotTo(HaveOccurred())
	})

	It("fails when the temporary interface does not exist", func() {
		ops := netlinkopstest.New()

		_, addr, _ := net.ParseCIDR("10.88.0.5/24")
		_, err := containerattach.Configure(ops, "tmp1234", "eth0", []netmodel.NetAddress{{IPNet: addr}})

		Expect(err).To(HaveOccurred())
	})

	It("surfaces a rename failure without assigning addresses", func() {
		ops := netlinkopstest.New()
		ops.SeedLink("tmp1234", false)
		ops.FailRename = true

		_, addr, _ := net.ParseCIDR("10.88.0.5/24")
		_, err := containerattach.Configure(ops, "tmp1234", "eth0", []netmodel.NetAddress{{IPNet: addr}})

		Expect(err).To(HaveOccurred())
		Expect(ops.Addrs("eth0")).To(BeEmpty())
	})

	It("fails with ContainerSetupFailed when container_ifname already exists", func() {
		ops := netlinkopstest.New()
		ops.SeedLink("tmp1234", false)
		ops.SeedLink("eth0", false)

		_, addr, _ := net.ParseCIDR("10.88.0.5/24")
		_, err := containerattach.Configure(ops, "tmp1234", "eth0", []netmodel.NetAddress{{IPNet: addr}})

		Expect(err).To(HaveOccurred())
		Expect(corerr.Is(err, corerr.ContainerSetupFailed)).To(BeTrue())
		Expect(ops.HasLink("tmp1234")).To(BeTrue())
	})
})

var _ = Describe("Remove", func() {
	It("deletes the interface", func() {
		ops := netlinkopstest.New()
		ops.SeedLink("eth0", true)

		err := containerattach.Remove(ops, "eth0")

		Expect(err).NotTo(HaveOccurred())
		Expect(ops.HasLink("eth0")).To(BeFalse())
	})

	It("is idempotent when already gone", func() {
		ops := netlinkopstest.New()
		err := containerattach.Remove(ops, "eth0")
		Expect(err).NotTo(HaveOccurred())
	})
})
