package models

type CompareRequest struct {
	URL                  string  `json:"url"`
	BrowserA             string  `json:"browserA"`
	BrowserB             string  `json:"browserB"`
	MinIterations        int     `json:"minIterations,omitempty"`
	MaxIterations        int     `json:"maxIterations,omitempty"`
	ConsistencyThreshold float64 `json:"consistencyThreshold,omitempty"`
}

type ErrorResponse struct {
	Error   string  `json:"error"`
	Details *string `json:"details,omitempty"`
}

type ProgressResponse struct {
	Browser   string `json:"browser"`
	Iteration int    `json:"iteration"`
	Total     int    `json:"total"`
	Message   string `json:"message"`
}

// Internal Sitespeed Data Models

type BrowserTime struct {
	Timings          *Timings          `json:"timings"`
	PageTimings      *PageTimings      `json:"pageTimings"`
	NavigationTiming *NavigationTiming `json:"navigationTiming"`
	GoogleWebVitals  *GoogleWebVitals  `json:"googleWebVitals"`
}

type Timings struct {
	FullyLoaded *Metric `json:"fullyLoaded"`
}

type NavigationTiming struct {
	DomComplete *Metric `json:"domComplete"`
}

type PageTimings struct {
	PageLoadTime         *Metric `json:"pageLoadTime"`
	DomContentLoadedTime *Metric `json:"domContentLoadedTime"`
	DomInteractiveTime   *Metric `json:"domInteractiveTime"`
	ServerResponseTime   *Metric `json:"serverResponseTime"`
	BackEndTime          *Metric `json:"backEndTime"`
}

type GoogleWebVitals struct {
	Ttfb                   *Metric `json:"ttfb"`
	LargestContentfulPaint *Metric `json:"largestContentfulPaint"`
	FirstContentfulPaint   *Metric `json:"firstContentfulPaint"`
	CumulativeLayoutShift  *Metric `json:"cumulativeLayoutShift"`
	TotalBlockingTime      *Metric `json:"totalBlockingTime"`
}

type PageXray struct {
	TransferSize *Metric `json:"transferSize"`
	ContentSize  *Metric `json:"contentSize"`
	Requests     *Metric `json:"requests"`
}

type Metric struct {
	Median float64 `json:"median"`
}
