package docs

import _ "embed"

//go:embed campaign-api.openapi.yaml
var embeddedCampaignOpenAPI []byte

//go:embed swagger.html
var embeddedCampaignSwaggerHTML []byte

// CampaignOpenAPI is the OpenAPI document of the campaign operator API.
var CampaignOpenAPI = embeddedCampaignOpenAPI

// CampaignSwaggerHTML is the Swagger UI page that loads CampaignOpenAPI.
var CampaignSwaggerHTML = embeddedCampaignSwaggerHTML
