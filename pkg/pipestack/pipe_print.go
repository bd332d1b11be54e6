package pipestack

import (
	"fmt"
	"sort"
)

func GetChannelTableString(p *PipeGlobalInfo) []string {
	stats := p.Channels()
	sort.Slice(stats, func(i, j int) bool { return stats[i].Identity < stats[j].Identity })

	res := make([]string, len(stats))
	for i, s := range stats {
		res[i] = fmt.Sprintf("%v\t%v\t%v\t%v\t%v\n", s.Identity, s.Openers, s.Occupancy, s.FreeSpace, s.Waiters)
	}
	return res
}
