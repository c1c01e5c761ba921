package feed

import (
	"sort"
	"time"
)

const (
	// Lookback is the scoring window.
	Lookback = 24 * time.Hour

	// PostPoints and CommentPoints are awarded to the liked item's author.
	PostPoints    = 5
	CommentPoints = 1

	// TopN caps the leaderboard length.
	TopN = 5
)

// ScoreLeaderboard ranks authors by likes received within the lookback
// window ending at now. Likes on posts score higher than likes on
// comments. Ties are broken by username ascending so repeated runs over
// the same input produce identical output. Likes whose target was deleted
// arrive with an empty owner and are skipped.
func ScoreLeaderboard(likes []LikeEvent, now time.Time) []ScoreEntry {
	cutoff := now.Add(-Lookback)

	totals := make(map[string]int)
	for _, like := range likes {
		if like.TargetOwner == "" {
			continue
		}
		if like.CreatedAt.Before(cutoff) {
			continue
		}
		points := CommentPoints
		if like.TargetKind == TargetPost {
			points = PostPoints
		}
		totals[like.TargetOwner] += points
	}

	entries := make([]ScoreEntry, 0, len(totals))
	for username, total := range totals {
		entries = append(entries, ScoreEntry{Username: username, Total: total})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Total != entries[j].Total {
			return entries[i].Total > entries[j].Total
		}
		return entries[i].Username < entries[j].Username
	})

	if len(entries) > TopN {
		entries = entries[:TopN]
	}
	return entries
}
