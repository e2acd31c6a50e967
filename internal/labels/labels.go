// Package labels holds the closed label spaces of the crop identifier and
// of every per-crop disease model. Index order is the model output order.
package labels

// Crop is a crop species recognised by the crop identifier.
type Crop string

// Disease is a disease (or healthy) label scoped to one crop.
type Disease string

const (
	Apple       Crop = "Apple"
	Corn        Crop = "Corn"
	Grape       Crop = "Grape"
	Guava       Crop = "Guava"
	Lemon       Crop = "Lemon"
	Mango       Crop = "Mango"
	Peach       Crop = "Peach"
	Pepper      Crop = "Pepper"
	Pomegranate Crop = "Pomegranate"
	Potato      Crop = "Potato"
	Rice        Crop = "Rice"
	Strawberry  Crop = "Strawberry"
	Sugarcane   Crop = "Sugarcane"
	Tomato      Crop = "Tomato"
	Wheat       Crop = "Wheat"
)

// crops must stay sorted: the crop identifier was trained on this order.
var crops = []Crop{
	Apple, Corn, Grape, Guava, Lemon, Mango, Peach, Pepper,
	Pomegranate, Potato, Rice, Strawberry, Sugarcane, Tomato, Wheat,
}

var diseases = map[Crop][]Disease{
	Apple: {
		"Apple___Apple_scab",
		"Apple___Black_rot",
		"Apple___Cedar_apple_rust",
		"Apple___healthy",
	},
	Corn: {
		"Corn_(maize)___Cercospora_leaf_spot Gray_leaf_spot",
		"Corn_(maize)___Common_rust_",
		"Corn_(maize)___healthy",
		"Corn_(maize)___Northern_Leaf_Blight",
	},
	Guava: {"Guava_diseased", "Guava_healthy"},
	Grape: {
		"Grape___Black_rot",
		"Grape___Esca_(Black_Measles)",
		"Grape___healthy",
		"Grape___Leaf_blight_(Isariopsis_Leaf_Spot)",
	},
	Lemon:       {"Lemon_diseased", "Lemon_healthy"},
	Mango:       {"Mango_diseased", "Mango_healthy"},
	Peach:       {"Peach___Bacterial_spot", "Peach___healthy"},
	Pepper:      {"Pepper,_bell___Bacterial_spot", "Pepper,_bell___healthy"},
	Pomegranate: {"Pomegranate_diseased", "Pomegranate_healthy"},
	Potato:      {"Potato___Early_blight", "Potato___healthy", "Potato___Late_blight"},
	Rice: {
		"Rice___Brown_Spot",
		"Rice___Healthy",
		"Rice___Leaf_Blast",
		"Rice___Neck_Blast",
	},
	Strawberry: {"Strawberry___healthy", "Strawberry___Leaf_scorch"},
	Sugarcane:  {"Sugarcane_Bacterial Blight", "Sugarcane_Healthy", "Sugarcane_Red Rot"},
	Tomato: {
		"Tomato___Bacterial_spot",
		"Tomato___Early_blight",
		"Tomato___healthy",
		"Tomato___Late_blight",
		"Tomato___Leaf_Mold",
		"Tomato___Septoria_leaf_spot",
		"Tomato___Spider_mites Two-spotted_spider_mite",
		"Tomato___Target_Spot",
		"Tomato___Tomato_mosaic_virus",
		"Tomato___Tomato_Yellow_Leaf_Curl_Virus",
	},
	Wheat: {"Wheat___Brown_Rust", "Wheat___Healthy", "Wheat___Yellow_Rust"},
}

// Crops returns the crop label space in model output order.
func Crops() []Crop {
	out := make([]Crop, len(crops))
	copy(out, crops)
	return out
}

// NumCrops is the width of the crop identifier output.
func NumCrops() int {
	return len(crops)
}

// CropAt maps a crop identifier output index to its label.
func CropAt(i int) (Crop, bool) {
	if i < 0 || i >= len(crops) {
		return "", false
	}
	return crops[i], true
}

// Valid reports whether c is one of the known crops.
func (c Crop) Valid() bool {
	_, ok := diseases[c]
	return ok
}

// Diseases returns the disease label space of crop c in model output order.
func Diseases(c Crop) ([]Disease, bool) {
	d, ok := diseases[c]
	if !ok {
		return nil, false
	}
	out := make([]Disease, len(d))
	copy(out, d)
	return out, true
}

// NumDiseases is the width of the disease model output for crop c, or 0
// for an unknown crop.
func NumDiseases(c Crop) int {
	return len(diseases[c])
}

// DiseaseAt maps a disease model output index to its label.
func DiseaseAt(c Crop, i int) (Disease, bool) {
	d, ok := diseases[c]
	if !ok || i < 0 || i >= len(d) {
		return "", false
	}
	return d[i], true
}

// Belongs reports whether d is in the label space of crop c.
func Belongs(c Crop, d Disease) bool {
	for _, v := range diseases[c] {
		if v == d {
			return true
		}
	}
	return false
}
