package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"

	"github.com/turtacn/RegScan/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/RegScan/pkg/errors"
)

// SearcherConfig holds configuration for the Searcher.
type SearcherConfig struct {
	DefaultPageSize int           `mapstructure:"default_page_size"`
	MaxPageSize     int           `mapstructure:"max_page_size"`
	SearchTimeout   time.Duration `mapstructure:"search_timeout"`
}

// SearchRequest defines a search query.
type SearchRequest struct {
	IndexName  string
	Query      *Query
	Filters    []Filter
	Sort       []SortField
	Pagination *Pagination
}

// Query defines a search query structure.
type Query struct {
	QueryType string
	Field     string
	Fields    []string
	Value     interface{}
	Must      []Query
	Should    []Query
}

// Filter defines a filter condition.
type Filter struct {
	Field      string
	FilterType string
	Value      interface{}
	RangeFrom  interface{}
	RangeTo    interface{}
}

// SortField defines sorting criteria.
type SortField struct {
	Field string
	Order string
}

// Pagination defines pagination parameters.
type Pagination struct {
	Offset int
	Limit  int
}

// SearchResult holds the search response.
type SearchResult struct {
	Total    int64
	MaxScore float64
	Hits     []SearchHit
	TookMs   int64
}

// SearchHit represents a single search hit.
type SearchHit struct {
	ID     string
	Score  float64
	Source json.RawMessage
}

// Searcher performs search operations.
type Searcher struct {
	client *Client
	config SearcherConfig
	logger logging.Logger
}

// NewSearcher creates a new Searcher.
func NewSearcher(client *Client, cfg SearcherConfig, logger logging.Logger) *Searcher {
	if cfg.DefaultPageSize == 0 {
		cfg.DefaultPageSize = 20
	}
	if cfg.MaxPageSize == 0 {
		cfg.MaxPageSize = 100
	}
	if cfg.SearchTimeout == 0 {
		cfg.SearchTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Searcher{client: client, config: cfg, logger: logger}
}

// Search executes a search request.
func (s *Searcher) Search(ctx context.Context, req SearchRequest) (*SearchResult, error) {
	if req.IndexName == "" {
		return nil, errors.New(errors.ErrCodeValidation, "IndexName is required")
	}
	if req.Pagination == nil {
		req.Pagination = &Pagination{Limit: s.config.DefaultPageSize}
	}
	if req.Pagination.Limit <= 0 {
		req.Pagination.Limit = s.config.DefaultPageSize
	}
	if req.Pagination.Limit > s.config.MaxPageSize {
		req.Pagination.Limit = s.config.MaxPageSize
	}
	if req.Pagination.Offset < 0 {
		req.Pagination.Offset = 0
	}

	body, err := json.Marshal(s.buildQueryDSL(req))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to marshal query DSL")
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.SearchTimeout)
	defer cancel()

	osReq := opensearchapi.SearchRequest{
		Index: []string{req.IndexName},
		Body:  bytes.NewReader(body),
	}
	start := time.Now()
	resp, err := osReq.Do(ctx, s.client.GetClient())
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, errors.New(errors.ErrCodeTimeout, "search request timed out")
		}
		return nil, errors.Wrap(err, errors.CodeSearchError, "search request failed")
	}
	defer resp.Body.Close()

	if resp.IsError() {
		return nil, decodeError(resp, errors.New(errors.CodeSearchError, "search failed"))
	}

	result, err := parseSearchResponse(resp.Body)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("Search executed",
		logging.String("index", req.IndexName),
		logging.Int64("took_ms", time.Since(start).Milliseconds()),
		logging.Int64("hits", result.Total))
	return result, nil
}

func (s *Searcher) buildQueryDSL(req SearchRequest) map[string]interface{} {
	dsl := map[string]interface{}{}

	var queryMap map[string]interface{}
	if req.Query != nil {
		queryMap = buildQuery(req.Query)
	}
	if len(req.Filters) > 0 {
		filterClauses := make([]map[string]interface{}, 0, len(req.Filters))
		for _, f := range req.Filters {
			if clause := buildFilter(f); clause != nil {
				filterClauses = append(filterClauses, clause)
			}
		}
		boolQuery := map[string]interface{}{"filter": filterClauses}
		if queryMap != nil {
			boolQuery["must"] = queryMap
		} else {
			boolQuery["must"] = map[string]interface{}{"match_all": map[string]interface{}{}}
		}
		queryMap = map[string]interface{}{"bool": boolQuery}
	}
	if queryMap != nil {
		dsl["query"] = queryMap
	}

	if req.Pagination != nil {
		dsl["from"] = req.Pagination.Offset
		dsl["size"] = req.Pagination.Limit
	}
	if len(req.Sort) > 0 {
		sortList := make([]map[string]interface{}, len(req.Sort))
		for i, sf := range req.Sort {
			sortList[i] = map[string]interface{}{sf.Field: map[string]interface{}{"order": sf.Order}}
		}
		dsl["sort"] = sortList
	}
	return dsl
}

func buildQuery(q *Query) map[string]interface{} {
	switch q.QueryType {
	case "match":
		return map[string]interface{}{"match": map[string]interface{}{q.Field: q.Value}}
	case "multi_match":
		return map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":  q.Value,
				"fields": q.Fields,
			},
		}
	case "term":
		return map[string]interface{}{"term": map[string]interface{}{q.Field: q.Value}}
	case "prefix":
		return map[string]interface{}{"prefix": map[string]interface{}{q.Field: q.Value}}
	case "bool":
		boolQ := map[string]interface{}{}
		if len(q.Must) > 0 {
			clauses := make([]map[string]interface{}, len(q.Must))
			for i := range q.Must {
				clauses[i] = buildQuery(&q.Must[i])
			}
			boolQ["must"] = clauses
		}
		if len(q.Should) > 0 {
			clauses := make([]map[string]interface{}, len(q.Should))
			for i := range q.Should {
				clauses[i] = buildQuery(&q.Should[i])
			}
			boolQ["should"] = clauses
			boolQ["minimum_should_match"] = 1
		}
		return map[string]interface{}{"bool": boolQ}
	}
	return nil
}

func buildFilter(f Filter) map[string]interface{} {
	switch f.FilterType {
	case "term":
		return map[string]interface{}{"term": map[string]interface{}{f.Field: f.Value}}
	case "terms":
		return map[string]interface{}{"terms": map[string]interface{}{f.Field: f.Value}}
	case "prefix":
		return map[string]interface{}{"prefix": map[string]interface{}{f.Field: f.Value}}
	case "range":
		rangeMap := map[string]interface{}{}
		if f.RangeFrom != nil {
			rangeMap["gte"] = f.RangeFrom
		}
		if f.RangeTo != nil {
			rangeMap["lte"] = f.RangeTo
		}
		return map[string]interface{}{"range": map[string]interface{}{f.Field: rangeMap}}
	}
	return nil
}

func parseSearchResponse(body io.Reader) (*SearchResult, error) {
	var resp struct {
		Took int64 `json:"took"`
		Hits struct {
			Total struct {
				Value int64 `json:"value"`
			} `json:"total"`
			MaxScore float64 `json:"max_score"`
			Hits     []struct {
				ID     string          `json:"_id"`
				Score  float64         `json:"_score"`
				Source json.RawMessage `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to decode search response")
	}

	result := &SearchResult{
		Total:    resp.Hits.Total.Value,
		MaxScore: resp.Hits.MaxScore,
		TookMs:   resp.Took,
		Hits:     make([]SearchHit, 0, len(resp.Hits.Hits)),
	}
	for _, h := range resp.Hits.Hits {
		result.Hits = append(result.Hits, SearchHit{ID: h.ID, Score: h.Score, Source: h.Source})
	}
	return result, nil
}

// AssessmentQuery filters the assessment index. Text matches names, keys
// and local codes; the other fields are exact filters.
type AssessmentQuery struct {
	Text     string
	Label    string
	Tier     string
	ATC      string
	MinScore *int
	Offset   int
	Limit    int
}

// SearchAssessments runs q against index, highest score first.
func (s *Searcher) SearchAssessments(ctx context.Context, index string, q AssessmentQuery) ([]AssessmentDocument, int64, error) {
	req := SearchRequest{
		IndexName:  index,
		Sort:       []SortField{{Field: "score", Order: "desc"}, {Field: "key", Order: "asc"}},
		Pagination: &Pagination{Offset: q.Offset, Limit: q.Limit},
	}
	if q.Text != "" {
		req.Query = &Query{
			QueryType: "bool",
			Should: []Query{
				{QueryType: "multi_match", Value: q.Text, Fields: []string{"display_name^2", "therapeutic_area"}},
				{QueryType: "term", Field: "key", Value: q.Text},
				{QueryType: "term", Field: "local_codes", Value: q.Text},
			},
		}
	}
	if q.Label != "" {
		req.Filters = append(req.Filters, Filter{FilterType: "term", Field: "label", Value: q.Label})
	}
	if q.Tier != "" {
		req.Filters = append(req.Filters, Filter{FilterType: "term", Field: "tier", Value: q.Tier})
	}
	if q.ATC != "" {
		req.Filters = append(req.Filters, Filter{FilterType: "prefix", Field: "atc_code", Value: q.ATC})
	}
	if q.MinScore != nil {
		req.Filters = append(req.Filters, Filter{FilterType: "range", Field: "score", RangeFrom: *q.MinScore})
	}

	res, err := s.Search(ctx, req)
	if err != nil {
		return nil, 0, err
	}
	docs := make([]AssessmentDocument, 0, len(res.Hits))
	for _, h := range res.Hits {
		var d AssessmentDocument
		if err := json.Unmarshal(h.Source, &d); err != nil {
			return nil, 0, errors.Wrap(err, errors.ErrCodeSerialization, "failed to decode assessment hit "+h.ID)
		}
		docs = append(docs, d)
	}
	return docs, res.Total, nil
}
