package system

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
)

// Info is a snapshot of host health for the status command.
type Info struct {
	BootTime time.Time
	Load1    float64
	MemUsed  uint64
	MemTotal uint64
}

func Collect() (Info, error) {
	var i Info
	boot, err := host.BootTime()
	if err != nil {
		return i, err
	}
	i.BootTime = time.Unix(int64(boot), 0)
	if avg, err := load.Avg(); err == nil {
		i.Load1 = avg.Load1
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		i.MemUsed = vm.Used
		i.MemTotal = vm.Total
	}
	return i, nil
}

func (i Info) Lines() []string {
	return []string{
		"BOOT: " + humanize.Time(i.BootTime),
		fmt.Sprintf("LOAD: %.2f", i.Load1),
		fmt.Sprintf("MEM: %s / %s", humanize.Bytes(i.MemUsed), humanize.Bytes(i.MemTotal)),
	}
}
