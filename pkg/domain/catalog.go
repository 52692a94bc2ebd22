package domain

import "fmt"

// DefaultGridRows is the row capacity of a module entry grid.
const DefaultGridRows = 50

// Catalog is an ordered, read-only set of module schemas.
type Catalog struct {
	order   []ModuleID
	schemas map[ModuleID]Schema
}

// NewCatalog validates and indexes the supplied schemas, preserving order.
func NewCatalog(schemas ...Schema) (*Catalog, error) {
	c := &Catalog{schemas: make(map[ModuleID]Schema, len(schemas))}
	for _, s := range schemas {
		if err := s.Validate(); err != nil {
			return nil, err
		}
		if _, dup := c.schemas[s.Module]; dup {
			return nil, fmt.Errorf("module %s registered twice", s.Module)
		}
		c.order = append(c.order, s.Module)
		c.schemas[s.Module] = s
	}
	return c, nil
}

// DefaultCatalog returns the five taxroll correction modules.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(DefaultSchemas(DefaultGridRows)...)
	if err != nil {
		panic(err)
	}
	return c
}

// Lookup returns the schema registered for module.
func (c *Catalog) Lookup(module ModuleID) (Schema, error) {
	s, ok := c.schemas[module]
	if !ok {
		return Schema{}, UnknownModuleError{Module: module}
	}
	return s, nil
}

// Modules returns module identifiers in registration order.
func (c *Catalog) Modules() []ModuleID {
	return append([]ModuleID(nil), c.order...)
}

// Schemas returns every schema in registration order.
func (c *Catalog) Schemas() []Schema {
	out := make([]Schema, 0, len(c.order))
	for _, m := range c.order {
		out = append(out, c.schemas[m])
	}
	return out
}

// DefaultSchemas builds the built-in module schemas with the given grid capacity.
func DefaultSchemas(gridRows int) []Schema {
	if gridRows <= 0 {
		gridRows = DefaultGridRows
	}
	return []Schema{
		{
			Module: ModuleValueUpdate,
			Table:  "Taxroll_UpdateEntries",
			Columns: withNumeric(text("Taxyear", "CADID", "AccountNumber", "OCALUC", "LandValue",
				"ImprovementValue", "MarketValues", "AssessedValues", "Batch", "ValueType"), 4, 5, 6, 7),
			Source:   SourceGrid,
			GridRows: gridRows,
		},
		{
			Module: ModuleLUCUpdate,
			Table:  "Taxroll_LUCUpdateEntries",
			Columns: text("Taxyear", "CADID", "AccountNumber", "PreviousCADLUC", "Update_CADLUC",
				"Update_Taxroll_LUC", "Update_OCALUC", "OCA_Desc", "Category", "Batch"),
			Source:   SourceGrid,
			GridRows: gridRows,
		},
		{
			Module:   ModuleLandsizeUpdate,
			Table:    "Taxroll_LandsizeUpdateEntries",
			Columns:  withNumeric(text("Taxyear", "CADID", "AccountNumber", "LandSQFT", "Batch"), 3),
			Source:   SourceGrid,
			GridRows: gridRows,
		},
		{
			Module: ModuleGBAUpdate,
			Table:  "Taxroll_GBAUpdateEntries",
			Columns: withNumeric(text("Taxyear", "CADID", "AccountNumber", "GBA", "NRA", "YearBuilt",
				"Batch", "Remarks"), 3, 4, 5),
			Source:   SourceGrid,
			GridRows: gridRows,
		},
		{
			Module:  ModuleTaxrollInsert,
			Table:   "Taxroll_InsertEntries",
			Columns: text(taxrollInsertColumns...),
			Source:  SourceUpload,
		},
	}
}

var taxrollInsertColumns = []string{
	"CADAccountNumber", "Year", "LegalDescription", "ParcelID", "ClassCode", "Remarks",
	"LandSize", "LandUseCode", "NeighborhoodCode", "ExemptionCode", "GBA", "NRA", "Units", "Grade",
	"StreetNumber", "StreetName", "NoticedLandValue", "NoticedImprovedValue", "NoticedTotalValue",
	"YearBuilt", "OwnerName", "OwnerAddress", "OwnerAddress2", "OwnerAddress3", "OwnerCitySt",
	"OwnerCity", "OwnerState", "OwnerZip", "OwnerZip4", "NoticedMarketValue", "Keymap",
	"EconomicArea", "SubDivi", "PropAddress", "PropCity", "PropZip", "PropZip4", "CadID",
	"agentcode", "Agent_Name", "IsUdiAccount", "Ag_Value", "Dump_Landusecode", "Township",
	"Noticed_Date", "Farmland_Value", "Farmbuilding_value", "Revenue", "Hotel_Classification",
	"PropertyName",
}
