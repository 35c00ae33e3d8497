package internal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

var httpTimeout = 5 * time.Second

type usersResponse struct {
	Users []userDTO `json:"users"`
}

type chatsResponse struct {
	Chats []chatDTO `json:"chats"`
}

func apiSignup(baseURL, username, password string) error {
	payload := map[string]string{"username": username, "password": password}
	return doJSONRequest(http.MethodPost, baseURL+"/signup", "", payload, nil)
}

func apiLogin(baseURL, username, password string) (*loginResponse, error) {
	payload := map[string]string{"username": username, "password": password}
	var resp loginResponse
	if err := doJSONRequest(http.MethodPost, baseURL+"/login", "", payload, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func apiLogout(baseURL, token string) error {
	return doJSONRequest(http.MethodPost, baseURL+"/logout", token, nil, nil)
}

func apiUsers(baseURL, token string) ([]userDTO, error) {
	var resp usersResponse
	if err := doJSONRequest(http.MethodGet, baseURL+"/users", token, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Users, nil
}

func apiChats(baseURL, token string) ([]chatDTO, error) {
	var resp chatsResponse
	if err := doJSONRequest(http.MethodGet, baseURL+"/chats", token, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Chats, nil
}

func apiCreateChat(baseURL, token, name string, members []int64) (*chatDTO, error) {
	payload := createChatRequest{Name: name, Members: members}
	var resp chatDTO
	if err := doJSONRequest(http.MethodPost, baseURL+"/chats", token, payload, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func doJSONRequest(method, endpoint, token string, payload interface{}, out interface{}) error {
	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewBuffer(buf)
	}
	req, err := http.NewRequest(method, endpoint, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", authHeaderPrefix+token)
	}
	client := &http.Client{Timeout: httpTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if decodeErr := json.NewDecoder(resp.Body).Decode(&apiErr); decodeErr == nil && apiErr.Error != "" {
			return fmt.Errorf("%s: %s", http.StatusText(resp.StatusCode), apiErr.Error)
		}
		return fmt.Errorf("server returned %s", http.StatusText(resp.StatusCode))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
