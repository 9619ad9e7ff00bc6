package maps

import (
	"context"
	"fmt"

	"googlemaps.github.io/maps"

	"carpool/internal/types"
)

// PlacesService resolves place ids picked in the app into stored locations.
type PlacesService struct {
	client   *maps.Client
	language string
}

// NewPlacesService creates a new PlacesService with the given API Key.
func NewPlacesService(apiKey, language string) (*PlacesService, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &PlacesService{client: client, language: language}, nil
}

// ResolvePlace looks up the name and coordinates of a place id.
func (s *PlacesService) ResolvePlace(ctx context.Context, placeID string) (types.Location, error) {
	if placeID == "" {
		return types.Location{}, fmt.Errorf("empty place id")
	}
	res, err := s.client.PlaceDetails(ctx, &maps.PlaceDetailsRequest{
		PlaceID:  placeID,
		Language: s.language,
	})
	if err != nil {
		return types.Location{}, &RoutingError{Op: "place", Err: fmt.Errorf("places api error: %w", err)}
	}

	name := res.Name
	if name == "" {
		name = res.FormattedAddress
	}
	return types.Location{
		Name:    name,
		PlaceID: res.PlaceID,
		Point: types.Point{
			Lat: res.Geometry.Location.Lat,
			Lng: res.Geometry.Location.Lng,
		},
	}, nil
}
