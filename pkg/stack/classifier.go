package stack

import (
	"fmt"
	"math"
	"sort"
)

// rule describes which features indicate a profile and which contradict it.
type rule struct {
	profile  Profile
	required []Feature
	contra   []Feature
}

var rules = []rule{
	{
		profile:  PythonBackend,
		required: []Feature{FeaturePythonCode, FeaturePythonManifest},
		contra:   []Feature{FeatureNodeManifest, FeatureReact, FeatureHTMLTemplates},
	},
	{
		profile:  PythonFullstackReact,
		required: []Feature{FeaturePythonCode, FeaturePythonManifest, FeatureNodeManifest, FeatureReact},
	},
	{
		profile:  PythonDjangoTemplates,
		required: []Feature{FeaturePythonCode, FeaturePythonManifest, FeatureDjango, FeatureHTMLTemplates},
	},
	{
		profile:  NodeFrontend,
		required: []Feature{FeatureNodeManifest, FeatureJSCode},
		contra:   []Feature{FeaturePythonCode},
	},
}

// Options tune the classifier's decision rule.
type Options struct {
	// Margin is the coverage distance under which two candidates tie.
	Margin float64
	// MinCoverage is the coverage a candidate needs to be selected.
	MinCoverage float64
	// MinSignals is the raw signal count a candidate needs to be selected.
	MinSignals int
}

// DefaultOptions returns the classifier defaults.
func DefaultOptions() Options {
	return Options{Margin: 0.05, MinCoverage: 0.5, MinSignals: 1}
}

// Candidate is one profile's match against a repository's signals.
type Candidate struct {
	Profile  Profile `json:"profile"`
	Coverage float64 `json:"coverage"`
	Signals  int     `json:"signals"`
}

// Classification is the classifier's verdict.
type Classification struct {
	Profile    Profile     `json:"profile"`
	Coverage   float64     `json:"coverage"`
	Candidates []Candidate `json:"candidates"`
	Note       string      `json:"note"`
}

// Classifier maps signals to a Profile.
type Classifier struct {
	opts Options
}

// NewClassifier creates a Classifier. Zero-valued options fall back to
// defaults.
func NewClassifier(opts Options) *Classifier {
	def := DefaultOptions()
	if opts.Margin <= 0 {
		opts.Margin = def.Margin
	}
	if opts.MinCoverage <= 0 {
		opts.MinCoverage = def.MinCoverage
	}
	if opts.MinSignals <= 0 {
		opts.MinSignals = def.MinSignals
	}
	return &Classifier{opts: opts}
}

// Candidates scores every inferable profile, best first.
func (c *Classifier) Candidates(s Signals) []Candidate {
	features := s.Features()
	out := make([]Candidate, 0, len(rules))
	for i, r := range rules {
		matched, raw := 0, 0
		for _, f := range r.required {
			if n := features[f]; n > 0 {
				matched++
				raw += n
			}
		}
		for _, f := range r.contra {
			if features[f] > 0 {
				matched--
			}
		}
		cov := math.Max(0, float64(matched)/float64(len(r.required)))
		out = append(out, Candidate{Profile: rules[i].profile, Coverage: cov, Signals: raw})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Coverage != out[j].Coverage {
			return out[i].Coverage > out[j].Coverage
		}
		return out[i].Signals > out[j].Signals
	})
	return out
}

// Classify picks the best-covered profile. When the top candidates tie
// within the margin, strict mode fails with AmbiguousStackError; otherwise
// the candidate with the strictly highest raw signal count wins, and
// mixed_unknown is returned when there is none.
func (c *Classifier) Classify(s Signals, strict bool) (Classification, error) {
	cands := c.Candidates(s)
	res := Classification{Profile: MixedUnknown, Candidates: cands}

	best := cands[0]
	if !c.clears(best) {
		res.Note = "no stack cleared the signal floor"
		return res, nil
	}

	tied := []Candidate{best}
	for _, cand := range cands[1:] {
		if best.Coverage-cand.Coverage <= c.opts.Margin && c.clears(cand) {
			tied = append(tied, cand)
		}
	}
	if len(tied) == 1 {
		res.Profile = best.Profile
		res.Coverage = best.Coverage
		res.Note = fmt.Sprintf("matched %.0f%% of %s signals", best.Coverage*100, best.Profile)
		return res, nil
	}

	if strict {
		names := make([]Profile, len(tied))
		for i, t := range tied {
			names[i] = t.Profile
		}
		return res, &AmbiguousStackError{Candidates: names}
	}

	dominant, unique := tied[0], true
	for _, t := range tied[1:] {
		switch {
		case t.Signals > dominant.Signals:
			dominant, unique = t, true
		case t.Signals == dominant.Signals:
			unique = false
		}
	}
	if !unique {
		res.Note = fmt.Sprintf("%d candidates tied; no dominant stack", len(tied))
		return res, nil
	}
	res.Profile = dominant.Profile
	res.Coverage = dominant.Coverage
	res.Note = fmt.Sprintf("tie resolved by dominant signal count (%d)", dominant.Signals)
	return res, nil
}

func (c *Classifier) clears(cand Candidate) bool {
	return cand.Coverage >= c.opts.MinCoverage && cand.Signals >= c.opts.MinSignals
}

// Resolve honours a forced profile and classifies otherwise. An empty
// request or "auto" means classify.
func (c *Classifier) Resolve(requested string, s Signals, strict bool) (Profile, error) {
	if requested != "" && requested != "auto" {
		return ParseProfile(requested)
	}
	cls, err := c.Classify(s, strict)
	if err != nil {
		return "", err
	}
	return cls.Profile, nil
}
