package handlers

import (
	"fmt"
	"net/http"
	"strconv"
)

const (
	defaultPageSize = 10
	maxPageSize     = 200
)

type PaginatedResponse struct {
	Page     int     `json:"page"`
	PageSize int     `json:"page_size"`
	Total    int     `json:"total"`
	Prev     *string `json:"prev"`
	Next     *string `json:"next"`
}

// ReturnPaginatedData sets the total and builds absolute prev/next links.
// Query parameters other than page and page_size are carried over so a
// filtered listing stays filtered while paging.
func (p *PaginatedResponse) ReturnPaginatedData(r *http.Request, total int) {
	p.Total = total

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	baseURL := fmt.Sprintf("%s://%s%s", scheme, r.Host, r.URL.Path)

	link := func(page int) *string {
		q := r.URL.Query()
		q.Set("page", strconv.Itoa(page))
		q.Set("page_size", strconv.Itoa(p.PageSize))
		s := baseURL + "?" + q.Encode()
		return &s
	}

	p.Prev = nil
	if p.Page > 1 {
		p.Prev = link(p.Page - 1)
	}

	p.Next = nil
	if p.Page*p.PageSize < total {
		p.Next = link(p.Page + 1)
	}
}

// ExtractPagination reads page and page_size with fallbacks. The returned
// error is the last parse failure, if any; the values are usable regardless.
func ExtractPagination(r *http.Request) (int, int, error) {
	var parseErr error

	page := 1
	if s := r.URL.Query().Get("page"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil {
			parseErr = err
		} else if v >= 1 {
			page = v
		}
	}

	pageSize := defaultPageSize
	if s := r.URL.Query().Get("page_size"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil {
			parseErr = err
		} else if v >= 1 {
			pageSize = min(v, maxPageSize)
		}
	}

	return page, pageSize, parseErr
}
