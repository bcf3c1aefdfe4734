package ai

import (
	"fmt"
	"strings"
)

type RoomType string

const (
	RoomLivingRoom RoomType = "living-room"
	RoomBedroom    RoomType = "bedroom"
	RoomKitchen    RoomType = "kitchen"
	RoomDiningRoom RoomType = "dining-room"
	RoomBathroom   RoomType = "bathroom"
	RoomHomeOffice RoomType = "home-office"
	RoomKidsRoom   RoomType = "kids-room"
	RoomOutdoor    RoomType = "outdoor"
)

type Style string

const (
	StyleModern           Style = "modern"
	StyleScandinavian     Style = "scandinavian"
	StyleIndustrial       Style = "industrial"
	StyleMinimalist       Style = "minimalist"
	StyleTraditional      Style = "traditional"
	StyleCoastal          Style = "coastal"
	StyleFarmhouse        Style = "farmhouse"
	StyleBohemian         Style = "bohemian"
	StyleMidCenturyModern Style = "mid-century-modern"
	StyleLuxury           Style = "luxury"
)

var roomFurniture = map[RoomType]string{
	RoomLivingRoom: "a sofa, armchairs, a coffee table, a rug, floor lamps and wall art",
	RoomBedroom:    "a made bed with bedding, nightstands, table lamps, a dresser and a rug",
	RoomKitchen:    "bar stools, styled countertops, pendant lights and small appliances",
	RoomDiningRoom: "a dining table with chairs, a pendant light, a sideboard and a centerpiece",
	RoomBathroom:   "towels, a bath mat, a vanity mirror, plants and toiletries",
	RoomHomeOffice: "a desk, an ergonomic chair, shelving, a desk lamp and plants",
	RoomKidsRoom:   "a child's bed, toy storage, a play rug, a small desk and playful decor",
	RoomOutdoor:    "outdoor lounge seating, a dining set, potted plants and string lights",
}

var styleTraits = map[Style]string{
	StyleModern:           "clean lines, neutral palette, sleek finishes",
	StyleScandinavian:     "light wood, white and soft grey tones, cozy textiles, hygge feel",
	StyleIndustrial:       "exposed metal, reclaimed wood, leather, dark tones",
	StyleMinimalist:       "few carefully chosen pieces, open space, monochrome palette",
	StyleTraditional:      "classic furniture, rich wood, patterned fabrics, symmetry",
	StyleCoastal:          "whites and blues, natural fibers, airy beach-house feel",
	StyleFarmhouse:        "rustic wood, shiplap accents, vintage pieces, warm whites",
	StyleBohemian:         "layered textiles, plants, eclectic patterns, warm earthy colors",
	StyleMidCenturyModern: "tapered legs, organic curves, walnut wood, retro accent colors",
	StyleLuxury:           "velvet and marble, brass accents, statement lighting, rich materials",
}

func ParseRoomType(s string) (RoomType, error) {
	r := RoomType(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := roomFurniture[r]; !ok {
		return "", fmt.Errorf("unsupported room type %q", s)
	}
	return r, nil
}

func ParseStyle(s string) (Style, error) {
	st := Style(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := styleTraits[st]; !ok {
		return "", fmt.Errorf("unsupported furniture style %q", s)
	}
	return st, nil
}

// Label turns "mid-century-modern" into "mid century modern".
func (r RoomType) Label() string { return strings.ReplaceAll(string(r), "-", " ") }

func (s Style) Label() string { return strings.ReplaceAll(string(s), "-", " ") }

// stagingPrompt is the free-text instruction shared by the prompt-driven
// providers.
func stagingPrompt(room RoomType, style Style) string {
	return fmt.Sprintf(
		"Virtually stage this empty %s in %s style. Add %s. Style traits: %s. "+
			"Keep the walls, windows, doors, floor and camera perspective exactly as they are. "+
			"Photorealistic interior photography, natural lighting, realistic scale and shadows.",
		room.Label(), style.Label(), roomFurniture[room], styleTraits[style],
	)
}

func stagingNegativePrompt(room RoomType, style Style) string {
	_ = style
	base := "blurry, distorted perspective, warped walls, changed windows, extra doors, " +
		"floating furniture, duplicated objects, people, text, watermark, cartoon, low quality"
	if room == RoomOutdoor {
		return base + ", indoor furniture"
	}
	return base
}
