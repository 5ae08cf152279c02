package models

type User struct {
	ID          string
	DisplayName string
	AvatarURL   string
}

type ListingStatus string

const (
	ListingAvailable ListingStatus = "AVAILABLE"
	ListingReserved  ListingStatus = "RESERVED"
	ListingSold      ListingStatus = "SOLD"
	ListingRented    ListingStatus = "RENTED"
)

// Closed reports whether the listing has changed hands.
func (s ListingStatus) Closed() bool {
	return s == ListingSold || s == ListingRented
}

type Listing struct {
	ID            string
	Title         string
	Price         float64
	Status        ListingStatus
	OwnerID       string
	CoverImageURL string
}
