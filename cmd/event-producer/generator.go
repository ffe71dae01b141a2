package main

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/kicker-achievements/internal/domain"
)

var playerPrefixes = []string{
	"Phoenix", "Shadow", "Thunder", "Storm", "Blaze", "Ninja", "Dragon", "Wolf", "Hawk", "Viper",
	"Ghost", "Titan", "Frost", "Cyber", "Nova", "Raven", "Omega", "Alpha", "Delta", "Sigma",
}

func getPlayerName(idx int) string {
	prefixIdx := idx % len(playerPrefixes)
	suffix := idx/len(playerPrefixes) + 1
	return fmt.Sprintf("%s%d", playerPrefixes[prefixIdx], suffix)
}

// generator produces plausible kicker matches. MMR drifts with results so
// threshold achievements have something to cross.
type generator struct {
	rng      *rand.Rand
	kickerID string
	seasonID *string
	players  int
	mmr      map[string]int
}

func newGenerator(rng *rand.Rand, kickerID, seasonID string, players int) *generator {
	g := &generator{
		rng:      rng,
		kickerID: kickerID,
		players:  max(players, 4),
		mmr:      make(map[string]int),
	}
	if seasonID != "" {
		g.seasonID = &seasonID
	}
	return g
}

// pick returns n distinct player names
func (g *generator) pick(n int) []string {
	seen := make(map[int]bool, n)
	out := make([]string, 0, n)
	for len(out) < n {
		idx := g.rng.Intn(g.players)
		if seen[idx] {
			continue
		}
		seen[idx] = true
		out = append(out, getPlayerName(idx))
	}
	return out
}

// match plays one game and returns its goal events followed by the
// MATCH_ENDED event
func (g *generator) match(now time.Time) []domain.Event {
	gamemode := "1on1"
	size := 2
	if g.rng.Intn(2) == 0 {
		gamemode, size = "2on2", 4
	}
	players := g.pick(size)
	home, away := players[:size/2], players[size/2:]

	matchID := uuid.NewString()
	homeGoals, awayGoals := 0, 0
	goals := make(map[string]int, size)
	var events []domain.Event

	// first to 10 wins
	for homeGoals < 10 && awayGoals < 10 {
		team := home
		if g.rng.Intn(2) == 0 {
			team = away
			awayGoals++
		} else {
			homeGoals++
		}
		scorer := team[g.rng.Intn(len(team))]
		goals[scorer]++
		events = append(events, domain.Event{
			EventID:    uuid.NewString(),
			Type:       domain.TriggerGoalScored,
			KickerID:   g.kickerID,
			SeasonID:   g.seasonID,
			MatchID:    &matchID,
			OccurredAt: now,
			Participants: []domain.Participant{{
				PlayerID:   scorer,
				StatDeltas: map[domain.Metric]int{domain.MetricGoals: 1},
			}},
			MatchContext: domain.MatchContext{Gamemode: &gamemode},
		})
	}

	homeWon := homeGoals > awayGoals
	diff := homeGoals - awayGoals
	if diff < 0 {
		diff = -diff
	}
	duration := 180 + g.rng.Intn(420)
	avg := func(team []string) int {
		sum := 0
		for _, p := range team {
			sum += g.rating(p)
		}
		return sum / len(team)
	}
	homeMMR, awayMMR := avg(home), avg(away)

	var participants []domain.Participant
	for _, side := range []struct {
		team     []string
		won      bool
		opponent int
	}{{home, homeWon, awayMMR}, {away, !homeWon, homeMMR}} {
		result, change := domain.ResultLoss, -15
		if side.won {
			result, change = domain.ResultWin, 15
		}
		for _, p := range side.team {
			g.mmr[p] = g.rating(p) + change
			participants = append(participants, domain.Participant{
				PlayerID:   p,
				Result:     result,
				StatDeltas: map[domain.Metric]int{domain.MetricGoals: goals[p]},
				StatTotals: map[domain.Metric]int{domain.MetricMMR: g.mmr[p]},
			})
		}
	}

	// opponent_mmr is reported from the home side's perspective
	events = append(events, domain.Event{
		EventID:      uuid.NewString(),
		Type:         domain.TriggerMatchEnded,
		KickerID:     g.kickerID,
		SeasonID:     g.seasonID,
		MatchID:      &matchID,
		OccurredAt:   now,
		Participants: participants,
		MatchContext: domain.MatchContext{
			Gamemode:        &gamemode,
			ScoreDiff:       &diff,
			OpponentMMR:     &awayMMR,
			DurationSeconds: &duration,
		},
	})
	return events
}

func (g *generator) rating(player string) int {
	if v, ok := g.mmr[player]; ok {
		return v
	}
	return 1000
}
