package farm

// Plot is a cultivated bed selectable on the dashboard.
type Plot struct {
	ID       string `json:"id" yaml:"id"`
	Name     string `json:"name" yaml:"name"`
	Area     string `json:"area" yaml:"area"`
	Crop     string `json:"crop" yaml:"crop"`
	Color    string `json:"color" yaml:"color"`
	Bg       string `json:"bg" yaml:"bg"`
	Image    string `json:"img" yaml:"img"`
	ImageAlt string `json:"imgAlt" yaml:"imgAlt"`
}

// Weather is the outdoor panel of the dashboard.
type Weather struct {
	Location    string  `json:"location" yaml:"location"`
	Temperature float64 `json:"temperature" yaml:"temperature"`
	Condition   string  `json:"weather" yaml:"condition"`
	High        float64 `json:"high" yaml:"high"`
	Low         float64 `json:"low" yaml:"low"`
	Humidity    float64 `json:"humidity" yaml:"humidity"`
	WindSpeed   float64 `json:"windSpeed" yaml:"windSpeed"`
}

// DefaultPlots are the demo beds.
func DefaultPlots() []Plot {
	return []Plot{
		{
			ID: "PL-02J", Name: "Spinach Garden 08", Area: "200 m²", Crop: "spinach",
			Color: "text-green-800 dark:text-green-200", Bg: "bg-green-50 dark:bg-green-800",
			Image: "/images/leaf.png", ImageAlt: "Spinach",
		},
		{
			ID: "PL-701", Name: "Bell Pepper Patch", Area: "180 m²", Crop: "bell pepper",
			Color: "text-orange-800 dark:text-orange-200", Bg: "bg-orange-50 dark:bg-orange-800",
			Image: "/images/bell-pepper.png", ImageAlt: "Bell Pepper",
		},
	}
}

// DefaultWeather is the mock outdoor reading.
func DefaultWeather() Weather {
	return Weather{Location: "Uplands , Kandy", Temperature: 24, Condition: "Sunny", High: 26, Low: 22, Humidity: 65, WindSpeed: 12}
}

// SelectPlot returns the plot with id, or the first plot when id is unknown.
func SelectPlot(plots []Plot, id string) (Plot, bool) {
	for _, p := range plots {
		if p.ID == id {
			return p, true
		}
	}
	if len(plots) == 0 {
		return Plot{}, false
	}
	return plots[0], false
}
