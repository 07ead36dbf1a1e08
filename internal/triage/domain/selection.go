package domain

import (
	"sort"

	"github.com/bwmarrin/snowflake"
	rolldomain "github.com/smallbiznis/stocktake/internal/countroll/domain"
)

// Selection is the reviewer's checked rows. It only ever spans the loaded page.
type Selection struct {
	ids map[snowflake.ID]struct{}
}

func NewSelection(ids ...snowflake.ID) *Selection {
	s := &Selection{ids: make(map[snowflake.ID]struct{}, len(ids))}
	for _, id := range ids {
		s.ids[id] = struct{}{}
	}
	return s
}

func (s *Selection) Toggle(id snowflake.ID) {
	if _, ok := s.ids[id]; ok {
		delete(s.ids, id)
		return
	}
	s.ids[id] = struct{}{}
}

// ToggleAll clears a selection that already covers the whole page, otherwise selects the whole page.
func (s *Selection) ToggleAll(page []rolldomain.CountRoll) {
	if len(page) > 0 && s.coversPage(page) {
		s.Clear()
		return
	}
	s.Clear()
	for _, roll := range page {
		s.ids[roll.ID] = struct{}{}
	}
}

func (s *Selection) coversPage(page []rolldomain.CountRoll) bool {
	if len(s.ids) != len(page) {
		return false
	}
	for _, roll := range page {
		if _, ok := s.ids[roll.ID]; !ok {
			return false
		}
	}
	return true
}

func (s *Selection) Contains(id snowflake.ID) bool {
	_, ok := s.ids[id]
	return ok
}

func (s *Selection) Clear() {
	s.ids = make(map[snowflake.ID]struct{})
}

func (s *Selection) Len() int { return len(s.ids) }

// IDs returns the selection in ascending id order.
func (s *Selection) IDs() []snowflake.ID {
	out := make([]snowflake.ID, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// SelectReadyForApproval picks the rows on the page that satisfy the one-click approval rule.
func SelectReadyForApproval(page []rolldomain.CountRoll) []snowflake.ID {
	out := []snowflake.ID{}
	for _, roll := range page {
		if roll.ReadyForApproval() {
			out = append(out, roll.ID)
		}
	}
	return out
}
