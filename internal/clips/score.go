package clips

import (
	"cmp"
	"math"
	"slices"
	"time"

	"github.com/svglol/better-clips/internal/domain"
)

const (
	popularityWeight = 0.4
	recencyWeight    = 0.6

	bucketSize = 30 * time.Minute
	window     = 24 * time.Hour
)

// Bucket floors t to the half hour in UTC. Every request in the same half hour
// shares one window and one cache key.
func Bucket(t time.Time) time.Time {
	return t.UTC().Truncate(bucketSize)
}

// Rank orders clips by 0.4*log10(views+1) + 0.6*recency, highest first. Recency
// is 1 for a clip created this minute, else (M-m)/M where m is its age in whole
// minutes and M the oldest age in the list. Equal scores keep their input order.
func Rank(clips []domain.Clip, now time.Time) []domain.Clip {
	ages := make([]int, len(clips))
	oldest := 0
	for i, c := range clips {
		ages[i] = minutesSince(now, c.CreatedAt)
		oldest = max(oldest, ages[i])
	}

	type scored struct {
		clip  domain.Clip
		score float64
	}
	ranked := make([]scored, len(clips))
	for i, c := range clips {
		ranked[i] = scored{clip: c, score: score(c.ViewCount, ages[i], oldest)}
	}

	slices.SortStableFunc(ranked, func(a, b scored) int {
		return cmp.Compare(b.score, a.score)
	})

	out := make([]domain.Clip, len(ranked))
	for i, r := range ranked {
		out[i] = r.clip
	}
	return out
}

func score(views, age, oldest int) float64 {
	recency := 1.0
	if age != 0 && oldest != 0 {
		recency = float64(oldest-age) / float64(oldest)
	}
	popularity := math.Log10(float64(views) + 1)
	return popularityWeight*popularity + recencyWeight*recency
}

func minutesSince(now, t time.Time) int {
	return max(0, int(now.Sub(t)/time.Minute))
}
