package session

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/olekukonko/tablewriter"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// where prints the captured call stack as a table, innermost frame first.
func (s *scope) where() any {
	stack := s.b.CallStack
	if len(stack) == 0 {
		s.c.console.Println("No frames captured.")
		return nil
	}

	table := tablewriter.NewWriter(s.c.console.Writer())
	table.Header("Index", "Function", "Bindings")
	for i, fr := range stack {
		names := fr.Names()
		parts := make([]string, 0, len(names))
		for _, n := range names {
			parts = append(parts, fmt.Sprintf("%s=%s", n, truncate(Repr(fr.Bindings[n]), 40)))
		}
		table.Append([]string{
			fmt.Sprintf("%d", i),
			fr.String(),
			strings.Join(parts, " "),
		})
	}
	table.Render()
	return nil
}

// proc reports resource usage of the current process.
func proc() (map[string]any, error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("failed to inspect process: %w", err)
	}

	stats := map[string]any{
		"pid":        int(p.Pid),
		"goroutines": runtime.NumGoroutine(),
	}
	if memInfo, err := p.MemoryInfo(); err == nil {
		stats["rss_bytes"] = memInfo.RSS
	}
	if cpuPercent, err := p.CPUPercent(); err == nil {
		stats["cpu_percent"] = cpuPercent
	}
	if threads, err := p.NumThreads(); err == nil {
		stats["threads"] = int(threads)
	}
	if created, err := p.CreateTime(); err == nil {
		stats["uptime"] = time.Since(time.UnixMilli(created)).Round(time.Second).String()
	}
	if vmem, err := mem.VirtualMemory(); err == nil {
		stats["host_mem_used_percent"] = vmem.UsedPercent
	}
	return stats, nil
}

// truncate shortens s to at most n runes.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-3]) + "..."
}
