package search

import "strings"

// JobQuery holds the /api/search/jobs filters. Budget bounds are in cents.
type JobQuery struct {
	Q         string
	Trade     string
	Location  string
	MinBudget *int64
	MaxBudget *int64
	Page      int
	Size      int
}

type WorkerQuery struct {
	Q         string
	Trade     string
	Location  string
	MinRating *float64
	Page      int
	Size      int
}

func buildJobQuery(q JobQuery) map[string]interface{} {
	must := []interface{}{}
	filter := []interface{}{
		map[string]interface{}{"term": map[string]interface{}{"status": "open"}},
	}

	if text := strings.TrimSpace(q.Q); text != "" {
		must = append(must, map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":  text,
				"fields": []string{"title^3", "description", "trade"},
				"type":   "best_fields",
			},
		})
	}
	if q.Trade != "" {
		filter = append(filter, map[string]interface{}{
			"term": map[string]interface{}{"trade": strings.ToLower(q.Trade)},
		})
	}
	if q.Location != "" {
		must = append(must, map[string]interface{}{
			"match": map[string]interface{}{"location": q.Location},
		})
	}

	// Overlap: a job matches when its budget range intersects the requested one.
	if q.MinBudget != nil {
		filter = append(filter, map[string]interface{}{
			"range": map[string]interface{}{"budget_max_cents": map[string]interface{}{"gte": *q.MinBudget}},
		})
	}
	if q.MaxBudget != nil {
		filter = append(filter, map[string]interface{}{
			"range": map[string]interface{}{"budget_min_cents": map[string]interface{}{"lte": *q.MaxBudget}},
		})
	}

	body := map[string]interface{}{
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"must":   must,
				"filter": filter,
			},
		},
	}
	if len(must) == 0 {
		body["sort"] = []interface{}{map[string]interface{}{"created_at": map[string]interface{}{"order": "desc"}}}
	}
	return body
}

func buildWorkerQuery(q WorkerQuery) map[string]interface{} {
	must := []interface{}{}
	filter := []interface{}{}

	if text := strings.TrimSpace(q.Q); text != "" {
		must = append(must, map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":  text,
				"fields": []string{"full_name^2", "bio", "skills"},
				"type":   "best_fields",
			},
		})
	}
	if q.Trade != "" {
		filter = append(filter, map[string]interface{}{
			"term": map[string]interface{}{"trade": strings.ToLower(q.Trade)},
		})
	}
	if q.Location != "" {
		must = append(must, map[string]interface{}{
			"match": map[string]interface{}{"location": q.Location},
		})
	}
	if q.MinRating != nil {
		filter = append(filter, map[string]interface{}{
			"range": map[string]interface{}{"rating_avg": map[string]interface{}{"gte": *q.MinRating}},
		})
	}

	body := map[string]interface{}{
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"must":     must,
				"filter":   filter,
				"must_not": []interface{}{map[string]interface{}{"term": map[string]interface{}{"suspended": true}}},
			},
		},
	}
	if len(must) == 0 {
		body["sort"] = []interface{}{
			map[string]interface{}{"rating_avg": map[string]interface{}{"order": "desc"}},
			map[string]interface{}{"rating_count": map[string]interface{}{"order": "desc"}},
		}
	}
	return body
}

func normalizePage(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = DefaultSize
	}
	if size > MaxSize {
		size = MaxSize
	}
	return page, size
}

var jobsMapping = map[string]interface{}{
	"mappings": map[string]interface{}{
		"properties": map[string]interface{}{
			"id":               map[string]interface{}{"type": "keyword"},
			"hirer_id":         map[string]interface{}{"type": "keyword"},
			"title":            map[string]interface{}{"type": "text"},
			"description":      map[string]interface{}{"type": "text"},
			"trade":            map[string]interface{}{"type": "keyword"},
			"location":         map[string]interface{}{"type": "text"},
			"budget_min_cents": map[string]interface{}{"type": "long"},
			"budget_max_cents": map[string]interface{}{"type": "long"},
			"status":           map[string]interface{}{"type": "keyword"},
			"created_at":       map[string]interface{}{"type": "date"},
		},
	},
}

var workersMapping = map[string]interface{}{
	"mappings": map[string]interface{}{
		"properties": map[string]interface{}{
			"id":                map[string]interface{}{"type": "keyword"},
			"full_name":         map[string]interface{}{"type": "text"},
			"bio":               map[string]interface{}{"type": "text"},
			"skills":            map[string]interface{}{"type": "text"},
			"trade":             map[string]interface{}{"type": "keyword"},
			"location":          map[string]interface{}{"type": "text"},
			"hourly_rate_cents": map[string]interface{}{"type": "long"},
			"rating_avg":        map[string]interface{}{"type": "float"},
			"rating_count":      map[string]interface{}{"type": "integer"},
			"suspended":         map[string]interface{}{"type": "boolean"},
		},
	},
}
