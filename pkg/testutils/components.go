package testutils

// -------------------------------------------------------------------------------------------------
// Components
// -------------------------------------------------------------------------------------------------

type Health struct {
	Value int `json:"value"`
}

func (Health) Name() string { return "Health" }

type Velocity struct{ X, Y, Z float32 }

func (Velocity) Name() string { return "Velocity" }

type Mesh struct {
	Asset    string `json:"asset"`
	Visible  bool   `json:"visible"`
	Material uint16 `json:"material"`
}

func (Mesh) Name() string { return "Mesh" }

type Light struct {
	Color     [3]float32 `json:"color"`
	Intensity float32    `json:"intensity"`
}

func (Light) Name() string { return "Light" }

type InvalidEmptyName struct{}

func (InvalidEmptyName) Name() string { return "" }
