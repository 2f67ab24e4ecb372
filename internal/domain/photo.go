package domain

import "time"

// Store is one retail outlet. Photos reference stores by StoreID and the
// area/region/city hierarchy drives both filtering and the archive layout.
type Store struct {
	StoreID string
	Name    string
	City    string
	Region  string
	Area    string
}

// Photo is one store-photo upload kept in the object store.
type Photo struct {
	ID            int64
	StoreID       string
	ObjectKey     string
	UploaderCode  string
	UploaderEmail string
	ImageCategory string
	CreatedAt     time.Time

	Store Store
}

// PhotoFilter narrows photo queries. Location fields match against the
// related store record; a filter that matches no store excludes the photo.
type PhotoFilter struct {
	StartDate     *time.Time
	EndDate       *time.Time
	Area          string
	Region        string
	City          string
	ImageCategory string
}

// MasterDataRow is one distinct area/region/city combination used to
// populate the filter dropdowns.
type MasterDataRow struct {
	Area   string `json:"area"`
	Region string `json:"region"`
	City   string `json:"city"`
}
