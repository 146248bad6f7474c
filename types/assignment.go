package types

import (
	"fmt"
	"strconv"
)

// Category is one of the two fixed data kinds scanned per NDS.
type Category string

const (
	// CategoryMRO is the measurement report original category.
	CategoryMRO Category = "MRO"
	// CategoryMDT is the minimization of drive tests category.
	CategoryMDT Category = "MDT"
)

// Categories returns the scanned categories in sweep order.
func Categories() []Category {
	return []Category{CategoryMRO, CategoryMDT}
}

// Assignment is the backend's view of what this agent should scan.
type Assignment struct {
	Gateway  *GatewayBinding `json:"gateway"`
	NDSLinks []NDSLink       `json:"ndsLinks"`
}

// GatewayBinding identifies the gateway all of this agent's sources go through.
type GatewayBinding struct {
	ID   ID     `json:"id"`
	Host string `json:"host"`
	Port int    `json:"port"`
}

// Address returns host:port for dialing.
func (g GatewayBinding) Address() string {
	return g.Host + ":" + strconv.Itoa(g.Port)
}

// NDSLink binds one NDS configuration to this agent.
// Links with an empty ID are not scanned.
type NDSLink struct {
	ID  ID        `json:"id"`
	NDS NDSConfig `json:"nds"`
}

// NDSConfig is one network file source with its two category roots.
// Immutable for the lifetime of a scan loop.
type NDSConfig struct {
	ID        ID     `json:"id"`
	MROPath   string `json:"MRO_Path"`
	MROFilter string `json:"MRO_Filter"`
	MDTPath   string `json:"MDT_Path"`
	MDTFilter string `json:"MDT_Filter"`
}

// CategoryRoot is the path and filename filter for one category.
type CategoryRoot struct {
	Path   string
	Filter string
}

// Root returns the configured root for the category.
func (n NDSConfig) Root(c Category) (CategoryRoot, error) {
	switch c {
	case CategoryMRO:
		return CategoryRoot{Path: n.MROPath, Filter: n.MROFilter}, nil
	case CategoryMDT:
		return CategoryRoot{Path: n.MDTPath, Filter: n.MDTFilter}, nil
	default:
		return CategoryRoot{}, fmt.Errorf("unknown category %q", c)
	}
}

// BoundNDS is one entry of the gateway's server-side NDS list.
type BoundNDS struct {
	ID   ID     `json:"id"`
	Name string `json:"name,omitempty"`
}
