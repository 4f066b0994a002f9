package bridgeattach_test

import (
	"net"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/jhamlin96/netavark/pkg/bridgeattach"
	"github.com/jhamlin96/netavark/pkg/netlinkopstest"
	"github.com/jhamlin96/netavark/pkg/netmodel"
)

var _ = Describe("Attach", func() {
	var spec netmodel.NetworkSpec

	BeforeEach(func() {
		_, cidr, _ := net.ParseCIDR("10.88.0.0/24")
		spec = netmodel.NetworkSpec{
			NetworkInterface: "podman0",
			Subnets: []netmodel.Subnet{
				{CIDR: cidr, Gateway: net.ParseIP("10.88.0.1")},
			},
		}
	})

	It("creates the bridge, its gateway address, and a veth pair moved into the namespace", func() {
		ops := netlinkopstest.New()

		res, err := bridgeattach.Attach(ops, spec, 42)

		Expect(err).NotTo(HaveOccurred())
		Expect(res.BridgeName).To(Equal("podman0"))
		Expect(res.HostVethName).NotTo(BeEmpty())
		Expect(res.ContainerTmpIfName).NotTo(BeEmpty())

		Expect(ops.HasLink("podman0")).To(BeTrue())
		gwAddrs := ops.Addrs("podman0")
		Expect(gwAddrs).To(HaveLen(1))
		Expect(gwAddrs[0].String()).To(Equal("10.88.0.1/24"))
	})

	It("reuses an existing bridge instead of recreating it", func() {
		ops := netlinkopstest.New()
		_, err := ops.EnsureBridgeLink("podman0")
		Expect(err).NotTo(HaveOccurred())

		_, err = bridgeattach.Attach(ops, spec, 42)
		Expect(err).NotTo(HaveOccurred())

		calls := 0
		for _, c := range ops.Calls {
			if c == "EnsureBridgeLink" {
				calls++
			}
		}
		Expect(calls).To(Equal(2)) // once to seed, once from Attach
	})

	It("skips gateway address assignment for subnets without a gateway", func() {
		_, cidr, _ := net.ParseCIDR("10.89.0.0/24")
		noGW := netmodel.NetworkSpec{
			NetworkInterface: "podman1",
			Subnets:          []netmodel.Subnet{{CIDR: cidr}},
		}
		ops := netlinkopstest.New()

		_, err := bridgeattach.Attach(ops, noGW, 42)

		Expect(err).NotTo(HaveOccurred())
		Expect(ops.Addrs("podman1")).To(BeEmpty())
	})

	It("keeps succeeding across repeated attaches that share one host", func() {
		ops := netlinkopstest.New()
		attempts := 0
		// Generated names are random, so a collision cannot be forced
		// here. Instead, repeated Attach calls share one Fake, so each new
		// host veth name is created next to the host veths of the earlier
		// calls; a collision, if one happened, would go through the
		// bounded retry.
		_, err := bridgeattach.Attach(ops, spec, 42)
		Expect(err).NotTo(HaveOccurred())

		for i := 0; i < 5; i++ {
			_, err := bridgeattach.Attach(ops, spec, 42)
			Expect(err).NotTo(HaveOccurred())
			attempts++
		}
		Expect(attempts).To(Equal(5))
	})

	It("rolls back the created veth pair when attaching to the bridge fails", func() {
		ops := netlinkopstest.New()
		ops.FailSetMaster = true

		_, err := bridgeattach.Attach(ops, spec, 42)

		Expect(err).To(HaveOccurred())
		// Cleanup deletes the host end by name; on a real kernel that also
		// removes its peer. The fake deletes only the named link, so this
		// checks that the cleanup issued the delete.
		foundDelete := false
		for _, c := range ops.Calls {
			if c == "DeleteLinkByName" {
				foundDelete = true
			}
		}
		Expect(foundDelete).To(BeTrue())
	})

	It("rolls back when disabling checksum offload fails", func() {
		ops := netlinkopstest.New()
		ops.FailDisableOffload = true

		_, err := bridgeattach.Attach(ops, spec, 42)

		Expect(err).To(HaveOccurred())
		Expect(ops.HasLink("podman0")).To(BeTrue(), "the bridge itself is never rolled back, only the veth")
	})

	It("rolls back when moving the peer into the namespace fails", func() {
		ops := netlinkopstest.New()
		ops.FailMoveToNamespace = true

		_, err := bridgeattach.Attach(ops, spec, 42)

		Expect(err).To(HaveOccurred())
		// Attach returns an empty Result on failure, so the host veth name
		// is not known here; check that the cleanup issued the delete.
		foundDelete := false
		for _, c := range ops.Calls {
			if c == "DeleteLinkByName" {
				foundDelete = true
			}
		}
		Expect(foundDelete).To(BeTrue())
	})
})

var _ = Describe("Detach", func() {
	It("removes the host veth", func() {
		ops := netlinkopstest.New()
		ops.SeedLink("vethabc", true)

		err := bridgeattach.Detach(ops, "vethabc")

		Expect(err).NotTo(HaveOccurred())
		Expect(ops.HasLink("vethabc")).To(BeFalse())
	})

	It("is idempotent when the veth is already gone", func() {
		ops := netlinkopstest.New()
		err := bridgeattach.Detach(ops, "vethabc")
		Expect(err).NotTo(HaveOccurred())
	})
})
