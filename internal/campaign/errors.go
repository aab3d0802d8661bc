package campaign

import (
	"errors"
	"fmt"
)

// ErrCampaignNotFound is matched by errors.Is on every NotFoundError.
var ErrCampaignNotFound = errors.New("campaign not found")

type NotFoundError struct {
	CampaignID int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("campaign with ID %d not found", e.CampaignID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrCampaignNotFound }

func NewNotFound(id int64) error {
	return &NotFoundError{CampaignID: id}
}
