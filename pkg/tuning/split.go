package tuning

import "hash/fnv"

// SplitHoldout partitions samples into training and held-out sets by a hash
// of the repository id, so membership is stable across runs and does not
// depend on input order. Roughly fraction of the samples are held out.
func SplitHoldout(samples []Sample, fraction float64) (train, holdout []Sample) {
	if fraction <= 0 {
		return samples, nil
	}
	cut := uint32(min(fraction, 1) * 1000)
	for _, s := range samples {
		h := fnv.New32a()
		h.Write([]byte(s.RepositoryID))
		if h.Sum32()%1000 < cut {
			holdout = append(holdout, s)
		} else {
			train = append(train, s)
		}
	}
	return train, holdout
}
