package quest

import "github.com/prakriti-odyssey/odyssey/internal/model"

// Submission is a scored quiz attempt.
type Submission struct {
	Score     int // percentage over attempted questions
	Attempted int
	Correct   int
	IsPerfect bool
}

// ScoreSubmission computes the score for a list of selected answer
// indices against the quest's questions. The SkippedAnswer sentinel
// marks questions the student did not attempt; the percentage is taken
// over attempted questions only. An attempt with nothing answered
// scores zero.
func ScoreSubmission(answers []int, questions []model.QuizQuestion) Submission {
	var sub Submission
	for i, q := range questions {
		if i >= len(answers) || answers[i] == model.SkippedAnswer {
			continue
		}
		sub.Attempted++
		if answers[i] == q.CorrectAnswer {
			sub.Correct++
		}
	}
	if sub.Attempted > 0 {
		sub.Score = int(float64(sub.Correct)/float64(sub.Attempted)*100 + 0.5)
	}
	sub.IsPerfect = sub.Score == 100 && sub.Attempted > 0
	return sub
}

// Rewards returns the points and coins a submission earns. Only a
// perfect run pays out; anything below 100 earns nothing.
func Rewards(sub Submission, q model.Quest) (points, coins int) {
	if !sub.IsPerfect {
		return 0, 0
	}
	return q.RewardPoints, q.RewardCoins
}
