package client

import (
	"sort"

	"github.com/chitchat-app/chitchat/internal/models"
)

// Layout is the recomputed ordering emitted after a drag. Positions are
// a dense zero-based permutation per scope.
type Layout struct {
	Categories []models.Category
	Rooms      []models.Room
}

// ComputeRoomReorder computes the layout after moving one room to
// targetIndex inside targetCategoryID. The inputs are not mutated and
// the computation never fails: the target index is clamped into range
// and a type-order violation demotes the category's EnforceTypeOrder
// flag instead of rejecting the move. DM rooms are categoryless and
// pass through untouched.
func ComputeRoomReorder(categories []models.Category, rooms []models.Room, movingID, targetCategoryID string, targetIndex int) Layout {
	cats := cloneCategories(categories)

	var dms []models.Room
	byCategory := make(map[string][]models.Room)
	var moving *models.Room
	for _, r := range rooms {
		r := r
		if r.IsDM() {
			dms = append(dms, r)
			continue
		}
		if r.ID == movingID {
			moving = &r
			continue
		}
		byCategory[r.CategoryID] = append(byCategory[r.CategoryID], r)
	}

	// Order each category list by its current policy before touching
	// anything, so indices mean what the drop geometry computed.
	for i := range cats {
		sortRooms(byCategory[cats[i].ID], cats[i].EnforceTypeOrder)
	}

	if moving != nil {
		list := byCategory[targetCategoryID]
		idx := targetIndex
		if idx < 0 {
			idx = 0
		}
		if idx > len(list) {
			idx = len(list)
		}
		moving.CategoryID = targetCategoryID
		list = append(list, models.Room{})
		copy(list[idx+1:], list[idx:])
		list[idx] = *moving
		byCategory[targetCategoryID] = list

		// An explicit user action may violate the type-order rule;
		// the rule becomes advisory rather than the move bouncing.
		for i := range cats {
			if cats[i].ID == targetCategoryID && cats[i].EnforceTypeOrder && violatesTypeOrder(list) {
				cats[i].EnforceTypeOrder = false
			}
		}
	}

	// Dense renumber: every room in every category, every category in
	// the server.
	sort.SliceStable(cats, func(i, j int) bool { return cats[i].Position < cats[j].Position })
	for i := range cats {
		cats[i].Position = i
	}

	out := Layout{Categories: cats}
	known := make(map[string]bool, len(cats))
	for _, cat := range cats {
		known[cat.ID] = true
		list := byCategory[cat.ID]
		for i := range list {
			list[i].Position = i
		}
		out.Rooms = append(out.Rooms, list...)
	}

	// Rooms referencing a category the snapshot does not carry (a stale
	// drag target, or a room list delivered mid-update) pass through
	// rather than vanish from the emitted layout.
	var strays []string
	for id := range byCategory {
		if !known[id] {
			strays = append(strays, id)
		}
	}
	sort.Strings(strays)
	for _, id := range strays {
		list := byCategory[id]
		for i := range list {
			list[i].Position = i
		}
		out.Rooms = append(out.Rooms, list...)
	}

	out.Rooms = append(out.Rooms, dms...)
	return out
}

// ComputeCategoryReorder computes the category ordering after moving
// one category to targetIndex, with the same clamping and dense
// renumbering as room moves.
func ComputeCategoryReorder(categories []models.Category, movingID string, targetIndex int) []models.Category {
	cats := cloneCategories(categories)
	sort.SliceStable(cats, func(i, j int) bool { return cats[i].Position < cats[j].Position })

	var moving *models.Category
	rest := make([]models.Category, 0, len(cats))
	for _, c := range cats {
		if c.ID == movingID {
			c := c
			moving = &c
			continue
		}
		rest = append(rest, c)
	}

	if moving != nil {
		idx := targetIndex
		if idx < 0 {
			idx = 0
		}
		if idx > len(rest) {
			idx = len(rest)
		}
		rest = append(rest, models.Category{})
		copy(rest[idx+1:], rest[idx:])
		rest[idx] = *moving
	}

	for i := range rest {
		rest[i].Position = i
	}
	return rest
}

// sortRooms orders a category's rooms in place: text before voice when
// the type-order rule is in force, position as the tiebreak.
func sortRooms(list []models.Room, enforceTypeOrder bool) {
	sort.SliceStable(list, func(i, j int) bool {
		if enforceTypeOrder {
			ri, rj := typeRank(list[i].Type), typeRank(list[j].Type)
			if ri != rj {
				return ri < rj
			}
		}
		return list[i].Position < list[j].Position
	})
}

func typeRank(t models.RoomType) int {
	if t == models.RoomVoice {
		return 1
	}
	return 0
}

// violatesTypeOrder reports whether any text room follows a voice room.
func violatesTypeOrder(list []models.Room) bool {
	seenVoice := false
	for _, r := range list {
		switch r.Type {
		case models.RoomVoice:
			seenVoice = true
		case models.RoomText:
			if seenVoice {
				return true
			}
		}
	}
	return false
}

func cloneCategories(categories []models.Category) []models.Category {
	out := make([]models.Category, len(categories))
	copy(out, categories)
	return out
}
