package notify

import "textgen/internal/dataset"

type countingTrainer struct{ calls int }

func (c *countingTrainer) TrainBatch(dataset.Batch) (float64, error) {
	c.calls++
	return 1, nil
}

func windows() []dataset.Sample {
	return dataset.Windows([]int{0, 1, 2, 3, 0, 1, 2, 3}, 3)
}
