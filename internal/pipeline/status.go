package pipeline

import (
	"os"

	"github.com/hochfrequenz/vlm-rationales/internal/domain"
	"github.com/hochfrequenz/vlm-rationales/internal/items"
)

// Coverage describes how far one pair has come
type Coverage struct {
	Spec         domain.TaskSpec
	Eligible     int
	Done         int // eligible items with any result
	Errors       int // eligible items whose result is an error
	ArtifactPath string
	HasArtifact  bool
}

// Remaining returns the number of eligible items without a result
func (c Coverage) Remaining() int {
	return c.Eligible - c.Done
}

// Percent returns Done as a share of Eligible
func (c Coverage) Percent() float64 {
	if c.Eligible == 0 {
		return 0
	}
	return float64(c.Done) * 100 / float64(c.Eligible)
}

// Coverage reports every configured pair against the scanned items
func (r *Runner) Coverage(scan *items.Scan) ([]Coverage, error) {
	specs, err := r.Pairs()
	if err != nil {
		return nil, err
	}
	out := make([]Coverage, 0, len(specs))
	for _, spec := range specs {
		eligible := r.Eligible(spec, scan)
		res := r.store.Load(spec.Language, spec.Task)
		c := Coverage{
			Spec:         spec,
			Eligible:     len(eligible),
			ArtifactPath: r.finalizer.Path(spec.Language, spec.Task),
		}
		for _, item := range eligible {
			v, ok := res[item.Key()]
			if !ok {
				continue
			}
			c.Done++
			if domain.IsErrorValue(v) {
				c.Errors++
			}
		}
		if _, err := os.Stat(c.ArtifactPath); err == nil {
			c.HasArtifact = true
		}
		out = append(out, c)
	}
	return out, nil
}
