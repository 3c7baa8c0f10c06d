package clips

import (
	"strconv"

	"github.com/svglol/better-clips/internal/domain"
	apperrors "github.com/svglol/better-clips/internal/platform/errors"
)

const (
	defaultPage  = "1"
	defaultLimit = "50"
	maxLimit     = 100
)

// PageRequest keeps the raw query strings next to their parsed values because
// the response echoes them back verbatim.
type PageRequest struct {
	Page     int
	Limit    int
	RawPage  string
	RawLimit string
}

// ParsePageRequest validates page and limit query values. limitField names the
// limit parameter in error messages ("limit" or "first").
func ParsePageRequest(page, limit, limitField string) (PageRequest, error) {
	if page == "" {
		page = defaultPage
	}
	if limit == "" {
		limit = defaultLimit
	}

	p, err := strconv.Atoi(page)
	if err != nil || p < 1 {
		return PageRequest{}, apperrors.ValidationError("page must be a positive integer").WithField("field", "page")
	}
	l, err := strconv.Atoi(limit)
	if err != nil || l < 1 || l > maxLimit {
		return PageRequest{}, apperrors.ValidationError(limitField+" must be an integer between 1 and 100").WithField("field", limitField)
	}

	return PageRequest{Page: p, Limit: l, RawPage: page, RawLimit: limit}, nil
}

type Pagination struct {
	CurrentPage     string `json:"currentPage"`
	TotalPages      int    `json:"totalPages"`
	TotalClips      int    `json:"totalClips"`
	Limit           string `json:"limit"`
	HasNextPage     bool   `json:"hasNextPage"`
	HasPreviousPage bool   `json:"hasPreviousPage"`
}

type ClipPage struct {
	Clips      []domain.Clip `json:"clips"`
	Pagination Pagination    `json:"pagination"`
}

// Paginate slices one page out of a ranked list. Pages past the end are empty.
func Paginate(all []domain.Clip, req PageRequest) ClipPage {
	total := len(all)
	totalPages := (total + req.Limit - 1) / req.Limit

	// compare in pages first so a huge page number cannot overflow the offset
	start := total
	if req.Page-1 < totalPages {
		start = (req.Page - 1) * req.Limit
	}
	end := min(start+req.Limit, total)

	page := make([]domain.Clip, end-start)
	copy(page, all[start:end])

	return ClipPage{
		Clips: page,
		Pagination: Pagination{
			CurrentPage:     req.RawPage,
			TotalPages:      totalPages,
			TotalClips:      total,
			Limit:           req.RawLimit,
			HasNextPage:     req.Page < totalPages,
			HasPreviousPage: req.Page > 1,
		},
	}
}
