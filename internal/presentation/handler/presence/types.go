package presence

type connectedResponse struct {
	Users []string `json:"users"`
	Count int      `json:"count"`
}
