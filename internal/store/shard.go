package store

import (
	"regexp"
	"strconv"

	"github.com/pumas-ai/pumas-launcher/pkg/models"
)

// Three shard filename patterns recognized per §4.2:
//   base-NNNNN-of-MMMMM.ext
//   base.ext.partN
//   base_NNNNN.ext
var (
	shardPatternOf   = regexp.MustCompile(`^(.+)-(\d+)-of-(\d+)(\.[A-Za-z0-9]+)$`)
	shardPatternPart = regexp.MustCompile(`^(.+)(\.[A-Za-z0-9]+)\.part(\d+)$`)
	shardPatternUnd  = regexp.MustCompile(`^(.+)_(\d+)(\.[A-Za-z0-9]+)$`)
)

type shardMatch struct {
	base  string
	index int
	total int // 0 means "no declared total"
}

func matchShard(name string) (shardMatch, bool) {
	if m := shardPatternOf.FindStringSubmatch(name); m != nil {
		idx, _ := strconv.Atoi(m[2])
		total, _ := strconv.Atoi(m[3])
		return shardMatch{base: m[1] + m[4], index: idx, total: total}, true
	}
	if m := shardPatternPart.FindStringSubmatch(name); m != nil {
		idx, _ := strconv.Atoi(m[3])
		return shardMatch{base: m[1] + m[2], index: idx, total: 0}, true
	}
	if m := shardPatternUnd.FindStringSubmatch(name); m != nil {
		idx, _ := strconv.Atoi(m[2])
		return shardMatch{base: m[1] + m[3], index: idx, total: 0}, true
	}
	return shardMatch{}, false
}

// GroupShards is the pure function over a file list described in §4.2. It
// is idempotent: grouping the output filenames again reproduces the same
// partition (§8's shard-grouping idempotence law), because standalone
// files (group size 1) are demoted and therefore never re-enter a group
// on a second pass, and already-grouped files carry the same shard
// pattern they were matched on.
func GroupShards(files []models.FileRecord) []models.ShardGroup {
	type bucket struct {
		indices   map[int]models.FileRecord
		maxTotal  int
		noTotal   bool
		order     []int
	}
	buckets := make(map[string]*bucket)
	var standalone []models.FileRecord

	for _, f := range files {
		m, ok := matchShard(f.Name)
		if !ok {
			standalone = append(standalone, f)
			continue
		}
		b, exists := buckets[m.base]
		if !exists {
			b = &bucket{indices: make(map[int]models.FileRecord)}
			buckets[m.base] = b
		}
		b.indices[m.index] = f
		b.order = append(b.order, m.index)
		if m.total == 0 {
			b.noTotal = true
		} else if m.total > b.maxTotal {
			b.maxTotal = m.total
		}
	}

	var groups []models.ShardGroup
	for base, b := range buckets {
		if len(b.indices) == 1 {
			for _, f := range b.indices {
				standalone = append(standalone, f)
			}
			continue
		}
		var filenames []string
		var total int64
		for _, f := range b.indices {
			filenames = append(filenames, f.Name)
			total += f.Size
		}
		complete := true
		if !b.noTotal && b.maxTotal > 0 {
			if len(b.indices) != b.maxTotal {
				complete = false
			} else {
				for i := 1; i <= b.maxTotal; i++ {
					if _, ok := b.indices[i]; !ok {
						complete = false
						break
					}
				}
			}
		}
		groups = append(groups, models.ShardGroup{
			Base:       base,
			ShardCount: len(b.indices),
			Filenames:  filenames,
			TotalSize:  total,
			Complete:   complete,
		})
	}

	for _, f := range standalone {
		groups = append(groups, models.ShardGroup{
			Base:       f.Name,
			ShardCount: 1,
			Filenames:  []string{f.Name},
			TotalSize:  f.Size,
			Complete:   true,
		})
	}

	return groups
}
