// Command virtio-devices wires up the block and 9P virtio-mmio devices
// this module implements and prints their device-tree nodes, the way a
// RISC-V simulator's platform setup would before handing the bus to a
// guest. It takes no CPU; HandleMMIO is exercised by the test suites, not
// by this binary.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/riscv-sim/virtio-core/internal/simmem"
	"github.com/riscv-sim/virtio-core/virtio/block"
	"github.com/riscv-sim/virtio-core/virtio/mmio"
	"github.com/riscv-sim/virtio-core/virtio/p9"
	"github.com/riscv-sim/virtio-core/virtio/p9/hostfs"
)

const (
	blockAddr = 0x40010000
	blockIRQ  = 1
	p9Addr    = 0x40011000
	p9IRQ     = 2
)

type nullSink struct{}

func (nullSink) SetLevel(irq, level int) {
	slog.Debug("irq", "irq", irq, "level", level)
}

func main() {
	blockArgs := flag.String("block", "", "block device args, e.g. img=disk.img,mode=rw")
	p9Args := flag.String("p9", "", "9p device args, e.g. path=/srv/guest,tag=/dev/root")
	flag.Parse()

	bus := mmio.NewBus()
	mem := make(simmem.Memory, 64<<20)
	sink := nullSink{}

	if *blockArgs != "" {
		dev, err := block.NewFromArgs(splitArgs(*blockArgs))
		if err != nil {
			fmt.Fprintln(os.Stderr, "virtio-devices:", err)
			os.Exit(1)
		}

		d := bus.Attach(dev, mem, blockAddr, blockIRQ, sink)
		fmt.Println(mmio.DeviceTreeNode(d))
	}

	if *p9Args != "" {
		args := splitArgs(*p9Args)

		path, err := p9.HostPath(args)
		if err != nil {
			fmt.Fprintln(os.Stderr, "virtio-devices:", err)
			os.Exit(1)
		}

		fs, err := hostfs.New(path)
		if err != nil {
			fmt.Fprintln(os.Stderr, "virtio-devices:", err)
			os.Exit(1)
		}

		dev := p9.NewFromArgs(fs, args)
		d := bus.Attach(dev, mem, p9Addr, p9IRQ, sink)
		fmt.Println(mmio.DeviceTreeNode(d))
	}
}

func splitArgs(s string) []string {
	return strings.Split(s, ",")
}
