package hal

// Category groups capabilities. Motion and gimbal capabilities actuate.
type Category string

const (
	CategoryMotion Category = "motion"
	CategorySensor Category = "sensor"
	CategoryGimbal Category = "gimbal"
	CategoryVision Category = "vision"
)

// Actuates reports whether capabilities in the category move hardware.
func (c Category) Actuates() bool {
	return c == CategoryMotion || c == CategoryGimbal
}

// Categories lists categories in namespace order.
func Categories() []Category {
	return []Category{CategoryMotion, CategorySensor, CategoryGimbal, CategoryVision}
}

// Kind is the Go type a script argument is converted to before a capability runs.
type Kind int

const (
	KindInt Kind = iota
	KindFloat
	KindString
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	default:
		return "unknown"
	}
}

// Param declares one capability parameter. A nil Default makes it required.
type Param struct {
	Name    string
	Kind    Kind
	Default any
}

// Required reports whether callers must supply the parameter.
func (p Param) Required() bool {
	return p.Default == nil
}

// Spec describes a capability independent of any provider.
type Spec struct {
	Name     string
	Category Category
	Params   []Param
	Summary  string
}

// Alias binds a readable name to a canonical capability.
type Alias struct {
	Name   string
	Target string
}

var speed = Param{Name: "speed", Kind: KindInt, Default: 50}

var catalog = []Spec{
	{Name: "qianjin", Category: CategoryMotion, Params: []Param{speed}, Summary: "drive forward"},
	{Name: "houtui", Category: CategoryMotion, Params: []Param{speed}, Summary: "drive backward"},
	{Name: "zuopingyi", Category: CategoryMotion, Params: []Param{speed}, Summary: "strafe left"},
	{Name: "youpingyi", Category: CategoryMotion, Params: []Param{speed}, Summary: "strafe right"},
	{Name: "xuanzhuan", Category: CategoryMotion, Params: []Param{speed}, Summary: "spin clockwise"},
	{Name: "fxuanzhuan", Category: CategoryMotion, Params: []Param{speed}, Summary: "spin counter-clockwise"},
	{Name: "xiaozuozhuan", Category: CategoryMotion, Params: []Param{speed}, Summary: "arc left"},
	{Name: "xiaoyouzhuan", Category: CategoryMotion, Params: []Param{speed}, Summary: "arc right"},
	{Name: "tingzhi", Category: CategoryMotion, Summary: "stop all motors"},
	{Name: "yidong_angle", Category: CategoryMotion, Params: []Param{
		{Name: "angle", Kind: KindFloat},
		speed,
	}, Summary: "drive along a heading in degrees"},
	{Name: "yidong_xy", Category: CategoryMotion, Params: []Param{
		{Name: "vx", Kind: KindFloat},
		{Name: "vy", Kind: KindFloat},
	}, Summary: "drive with x/y velocity components"},
	{Name: "set_servo", Category: CategoryMotion, Params: []Param{
		{Name: "servo_id", Kind: KindInt},
		{Name: "angle", Kind: KindInt},
	}, Summary: "set a servo angle"},
	{Name: "reset_servos", Category: CategoryMotion, Summary: "centre all servos"},

	{Name: "heshengbo", Category: CategorySensor, Summary: "ultrasonic distance in mm"},
	{Name: "heshengbo_juli", Category: CategorySensor, Summary: "ultrasonic distance in cm"},
	{Name: "heshengbo_fuzhi", Category: CategorySensor, Params: []Param{
		{Name: "distance", Kind: KindInt},
	}, Summary: "obstacle closer than distance mm"},
	{Name: "xunxian", Category: CategorySensor, Summary: "four line sensor states"},
	{Name: "xunxian_zhong", Category: CategorySensor, Summary: "both middle sensors on the line"},
	{Name: "xunxian_zuo", Category: CategorySensor, Summary: "left sensor on the line"},
	{Name: "xunxian_you", Category: CategorySensor, Summary: "right sensor on the line"},
	{Name: "xunxian_kuaixian", Category: CategorySensor, Summary: "all sensors on the line"},
	{Name: "xunxian_duqu", Category: CategorySensor, Summary: "no sensor on the line"},
	{Name: "dianchi", Category: CategorySensor, Summary: "battery voltage"},
	{Name: "dianchi_dian", Category: CategorySensor, Summary: "battery below the low threshold"},

	{Name: "shang", Category: CategoryGimbal, Summary: "tilt up one step"},
	{Name: "xia", Category: CategoryGimbal, Summary: "tilt down one step"},
	{Name: "zuo", Category: CategoryGimbal, Summary: "pan left one step"},
	{Name: "you", Category: CategoryGimbal, Summary: "pan right one step"},
	{Name: "fuwei", Category: CategoryGimbal, Summary: "centre the gimbal"},
	{Name: "yuntai_shang", Category: CategoryGimbal, Params: []Param{{Name: "angle", Kind: KindInt, Default: 30}}, Summary: "tilt up from centre"},
	{Name: "yuntai_xia", Category: CategoryGimbal, Params: []Param{{Name: "angle", Kind: KindInt, Default: 30}}, Summary: "tilt down from centre"},
	{Name: "yuntai_zuo", Category: CategoryGimbal, Params: []Param{{Name: "angle", Kind: KindInt, Default: 30}}, Summary: "pan left from centre"},
	{Name: "yuntai_you", Category: CategoryGimbal, Params: []Param{{Name: "angle", Kind: KindInt, Default: 30}}, Summary: "pan right from centre"},
	{Name: "yuntai_fuwei", Category: CategoryGimbal, Summary: "centre the gimbal"},

	{Name: "shibieyanse", Category: CategoryVision, Params: []Param{
		{Name: "color_name", Kind: KindString},
	}, Summary: "colour visible to the camera"},
}

var aliases = []Alias{
	{Name: "前进", Target: "qianjin"},
	{Name: "forward", Target: "qianjin"},
	{Name: "后退", Target: "houtui"},
	{Name: "backward", Target: "houtui"},
	{Name: "停止", Target: "tingzhi"},
	{Name: "stop", Target: "tingzhi"},
	{Name: "左平移", Target: "zuopingyi"},
	{Name: "strafe_left", Target: "zuopingyi"},
	{Name: "右平移", Target: "youpingyi"},
	{Name: "strafe_right", Target: "youpingyi"},
	{Name: "左转", Target: "xiaozuozhuan"},
	{Name: "turn_left", Target: "xiaozuozhuan"},
	{Name: "右转", Target: "xiaoyouzhuan"},
	{Name: "turn_right", Target: "xiaoyouzhuan"},
	{Name: "距离", Target: "heshengbo"},
	{Name: "distance", Target: "heshengbo"},
	{Name: "电池", Target: "dianchi"},
	{Name: "battery", Target: "dianchi"},
}

var catalogIndex = func() map[string]Spec {
	idx := make(map[string]Spec, len(catalog))
	for _, s := range catalog {
		idx[s.Name] = s
	}
	return idx
}()

// Catalog returns every capability the sandbox can bind, in binding order.
func Catalog() []Spec {
	out := make([]Spec, len(catalog))
	copy(out, catalog)
	return out
}

// Aliases returns the alias table in binding order.
func Aliases() []Alias {
	out := make([]Alias, len(aliases))
	copy(out, aliases)
	return out
}

// SpecFor returns the catalog entry for a canonical name.
func SpecFor(name string) (Spec, bool) {
	s, ok := catalogIndex[name]
	return s, ok
}
