package carrier

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

type orderStatus struct {
	Code     string `json:"code"`
	Name     string `json:"name"`
	DateTime string `json:"date_time"`
}

type requestError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type orderResponse struct {
	Entity *struct {
		UUID       string        `json:"uuid"`
		CdekNumber string        `json:"cdek_number"`
		Statuses   []orderStatus `json:"statuses"`
	} `json:"entity"`
	Requests []struct {
		State  string         `json:"state"`
		Errors []requestError `json:"errors"`
	} `json:"requests"`
}

// notFound reports whether the carrier answered with an entity-not-found error
func (r *orderResponse) notFound() bool {
	for _, req := range r.Requests {
		for _, e := range req.Errors {
			if e.Code == "v2_entity_not_found" || e.Code == "v2_entity_not_found_im_number" {
				return true
			}
		}
	}
	return false
}
