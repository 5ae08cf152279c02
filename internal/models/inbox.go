package models

import (
	"fmt"
	"strings"
	"time"
)

type ConversationFilter string

const (
	FilterSelling     ConversationFilter = "Selling"
	FilterBuying      ConversationFilter = "Buying"
	FilterPurchased   ConversationFilter = "Purchased"
	FilterSold        ConversationFilter = "Sold"
	FilterUnread      ConversationFilter = "Unread"
	FilterArchived    ConversationFilter = "Archived"
	FilterAll         ConversationFilter = "All"
	FilterAllMessages ConversationFilter = "All Messages"
)

// Filters lists every filter in badge display order.
var Filters = []ConversationFilter{
	FilterAllMessages, FilterAll, FilterSelling, FilterBuying,
	FilterPurchased, FilterSold, FilterUnread, FilterArchived,
}

// ParseFilter accepts the display names case-insensitively. Empty means All.
func ParseFilter(s string) (ConversationFilter, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return FilterAll, nil
	}
	for _, f := range Filters {
		if strings.EqualFold(s, string(f)) {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown filter %q: %w", s, ErrInvalidState)
}

const ChatClearedPreview = "Chat cleared"

// ConversationSummary is one inbox row as seen by a single viewer.
type ConversationSummary struct {
	ConversationID     string
	Listing            *Listing
	Counterpart        *User
	LastMessagePreview string
	LastMessageAt      *time.Time
	LastMessageSender  string
	IsUnread           bool
	IsArchived         bool
	IsSeller           bool
	IsSold             bool
	CreatedAt          time.Time
}

// Category returns the mutually exclusive trade bucket of the row.
func (s *ConversationSummary) Category() ConversationFilter {
	switch {
	case s.IsSeller && s.IsSold:
		return FilterSold
	case s.IsSeller:
		return FilterSelling
	case s.IsSold:
		return FilterPurchased
	default:
		return FilterBuying
	}
}

// Matches applies the inbox filter table. Archived rows only match FilterArchived.
func (s *ConversationSummary) Matches(f ConversationFilter) bool {
	if f == FilterArchived {
		return s.IsArchived
	}
	if s.IsArchived {
		return false
	}
	switch f {
	case FilterAll, FilterAllMessages:
		return true
	case FilterUnread:
		return s.IsUnread
	default:
		return s.Category() == f
	}
}

type ConversationPage struct {
	Items    []*ConversationSummary
	Total    int
	Page     int
	PageSize int
}

// UnreadCounts maps every filter to its number of unread conversations.
type UnreadCounts map[ConversationFilter]int

func NewUnreadCounts() UnreadCounts {
	c := make(UnreadCounts, len(Filters))
	for _, f := range Filters {
		c[f] = 0
	}
	return c
}
