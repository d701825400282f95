package domain

// ValueEstimator turns a feature vector into per-action scores and can be
// improved from a batch of experiences.
type ValueEstimator interface {
	Predict(state FeatureVector) [ActionCount]float32
	Update(batch []ExperienceSample) float32
	Save(path string) error
	Load(path string) error
}
