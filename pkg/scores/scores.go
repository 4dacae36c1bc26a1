// Package scores holds the dashboard's grading arithmetic: quiz scoring,
// cohort percentiles, and weak-topic selection. Pure functions, no I/O.
package scores

import "sort"

// Grade converts a correct/total pair into a score in [0,1].
func Grade(correct, total int) float64 {
	if total <= 0 {
		return 0
	}
	if correct < 0 {
		correct = 0
	}
	if correct > total {
		correct = total
	}
	return float64(correct) / float64(total)
}

// Percentile is the share of the cohort scoring strictly below score,
// expressed as 0..100. An empty cohort yields 0.
func Percentile(score float64, cohort []float64) float64 {
	if len(cohort) == 0 {
		return 0
	}
	below := 0
	for _, s := range cohort {
		if s < score {
			below++
		}
	}
	return float64(below) / float64(len(cohort)) * 100
}

// WeakTopics selects topics whose average score falls below threshold,
// weakest first, ties broken by name for stable output.
func WeakTopics(byTopic map[string]float64, threshold float64) []string {
	type topicScore struct {
		topic string
		score float64
	}
	weak := make([]topicScore, 0, len(byTopic))
	for topic, score := range byTopic {
		if score < threshold {
			weak = append(weak, topicScore{topic: topic, score: score})
		}
	}
	sort.Slice(weak, func(i, j int) bool {
		if weak[i].score != weak[j].score {
			return weak[i].score < weak[j].score
		}
		return weak[i].topic < weak[j].topic
	})
	out := make([]string, 0, len(weak))
	for _, t := range weak {
		out = append(out, t.topic)
	}
	return out
}
