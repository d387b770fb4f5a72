package recalculaterating

type Input struct {
	RevieweeID string `json:"revieweeId"`
}

type Output struct {
	RatingAvg   float64 `json:"ratingAvg"`
	RatingCount int     `json:"ratingCount"`
}
