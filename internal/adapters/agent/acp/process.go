package acp

import (
	"github.com/shirou/gopsutil/v4/process"
)

// collectDescendants walks the process tree below pid and returns every
// descendant with leaves before their parents.
func collectDescendants(pid int32) []int32 {
	proc, err := process.NewProcess(pid)
	if err != nil {
		return nil
	}
	children, err := proc.Children()
	if err != nil {
		return nil
	}

	var pids []int32
	for _, child := range children {
		pids = append(pids, collectDescendants(child.Pid)...)
		pids = append(pids, child.Pid)
	}
	return pids
}
