package vision

const (
	COCOPerson       = 0
	COCOBicycle      = 1
	COCOCar          = 2
	COCOMotorcycle   = 3
	COCOAirplane     = 4
	COCOBus          = 5
	COCOTrain        = 6
	COCOTruck        = 7
	COCOBoat         = 8
	COCOTrafficLight = 9
)

// COCO classes
var COCOClasses = []string{
	"person",
	"bicycle",
	"car",
	"motorcycle",
	"airplane",
	"bus",
	"train",
	"truck",
	"boat",
	"traffic light",
	"fire hydrant",
	"stop sign",
	"parking meter",
	"bench",
	"bird",
	"cat",
	"dog",
	"horse",
	"sheep",
	"cow",
	"elephant",
	"bear",
	"zebra",
	"giraffe",
	"backpack",
	"umbrella",
	"handbag",
	"tie",
	"suitcase",
	"frisbee",
	"skis",
	"snowboard",
	"sports ball",
	"kite",
	"baseball bat",
	"baseball glove",
	"skateboard",
	"surfboard",
	"tennis racket",
	"bottle",
	"wine glass",
	"cup",
	"fork",
	"knife",
	"spoon",
	"bowl",
	"banana",
	"apple",
	"sandwich",
	"orange",
	"broccoli",
	"carrot",
	"hot dog",
	"pizza",
	"donut",
	"cake",
	"chair",
	"couch",
	"potted plant",
	"bed",
	"dining table",
	"toilet",
	"tv",
	"laptop",
	"mouse",
	"remote",
	"keyboard",
	"cell phone",
	"microwave",
	"oven",
	"toaster",
	"sink",
	"refrigerator",
	"book",
	"clock",
	"vase",
	"scissors",
	"teddy bear",
	"hair drier",
	"toothbrush",
}

// VehicleClasses are the COCO classes that we count as vehicles.
var VehicleClasses = []int{COCOCar, COCOMotorcycle, COCOBus, COCOTruck}

func IsVehicleClass(class int) bool {
	switch class {
	case COCOCar, COCOMotorcycle, COCOBus, COCOTruck:
		return true
	}
	return false
}

// ClassName returns the COCO name for a class index, or "unknown" if the
// index is out of range.
func ClassName(class int) string {
	if class >= 0 && class < len(COCOClasses) {
		return COCOClasses[class]
	}
	return "unknown"
}
