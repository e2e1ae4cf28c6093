package agent

import (
	"context"
	"net"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
	gopsnet "github.com/shirou/gopsutil/v4/net"

	"github.com/fleetdeck/fleetdeck/internal/protocol"
)

// rootMount is the filesystem whose usage gets reported.
func rootMount() string {
	if runtime.GOOS == "windows" {
		return "C:"
	}
	return "/"
}

// collectStatic gathers the machine-identity snapshot. Individual
// probe failures leave their fields zero rather than failing the
// whole report.
func (a *Agent) collectStatic(ctx context.Context) *protocol.StaticInfo {
	info := &protocol.StaticInfo{
		OS:       runtime.GOOS,
		CPUCount: runtime.NumCPU(),
		RemoteID: a.cfg.RemoteID,
	}

	if hi, err := host.InfoWithContext(ctx); err == nil {
		info.OSVersion = hi.Platform + " " + hi.PlatformVersion
	} else {
		a.log.Debug().Err(err).Msg("host info probe failed")
	}

	if cpus, err := cpu.InfoWithContext(ctx); err == nil && len(cpus) > 0 {
		info.CPUModel = cpus[0].ModelName
	} else if err != nil {
		a.log.Debug().Err(err).Msg("cpu info probe failed")
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		info.MemoryTotal = vm.Total
	}

	if du, err := disk.UsageWithContext(ctx, rootMount()); err == nil {
		info.DiskTotal = du.Total
	}

	return info
}

// collectDynamic gathers the mutable metrics. Fields whose probe fails
// stay nil so the server keeps the last known value.
func (a *Agent) collectDynamic(ctx context.Context) protocol.DynamicReport {
	var report protocol.DynamicReport

	// One-second sample window for a meaningful usage figure.
	if percents, err := cpu.PercentWithContext(ctx, time.Second, false); err == nil && len(percents) > 0 {
		report.CPUUsage = &percents[0]
	} else if err != nil {
		a.log.Debug().Err(err).Msg("cpu usage probe failed")
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		usage := vm.UsedPercent
		report.MemoryUsage = &usage
	}

	if du, err := disk.UsageWithContext(ctx, rootMount()); err == nil {
		usage := du.UsedPercent
		report.DiskUsage = &usage
	}

	if counters, err := gopsnet.IOCountersWithContext(ctx, false); err == nil && len(counters) > 0 {
		total := counters[0].BytesSent + counters[0].BytesRecv
		report.NetworkBytes = &total
	}

	if ip := localIP(); ip != "" {
		report.IPAddress = &ip
	}

	now := time.Now().UTC()
	report.Timestamp = &now

	return report
}

// localIP returns the address the default route would use. No packet
// is actually sent.
func localIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return ""
	}
	defer conn.Close()

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return ""
	}
	return addr.IP.String()
}
