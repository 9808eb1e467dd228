package dto

import "github.com/cuongbtq/fetch-service/internal/domain"

type MediaQuery struct {
	URL        string `form:"url" binding:"required"`
	Credential string `form:"credential"`
}

type FormatsResponse struct {
	URL     string          `json:"url"`
	Formats []domain.Format `json:"formats"`
}

type CredentialsResponse struct {
	Credentials []string `json:"credentials"`
}
