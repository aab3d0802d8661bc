package sender

import (
	"fmt"
	"sync"

	"github.com/osteele/liquid"

	"github.com/Mutter0815/pacedmailer/internal/campaign"
)

// Renderer fills campaign subject and body liquid templates with lead data.
type Renderer struct {
	engine *liquid.Engine
	cache  sync.Map // template source -> *liquid.Template
}

func NewRenderer() *Renderer {
	return &Renderer{engine: liquid.NewEngine()}
}

func bindings(c campaign.Campaign, cl campaign.CampaignLead) map[string]any {
	return map[string]any{
		"first_name":    cl.Lead.FirstName,
		"last_name":     cl.Lead.LastName,
		"company":       cl.Lead.Company,
		"email":         cl.Lead.Email,
		"language":      cl.Lead.Language,
		"campaign_name": c.Name,
	}
}

func (r *Renderer) render(src string, b map[string]any) (string, error) {
	if cached, ok := r.cache.Load(src); ok {
		return cached.(*liquid.Template).RenderString(b)
	}
	tpl, err := r.engine.ParseString(src)
	if err != nil {
		return "", err
	}
	r.cache.Store(src, tpl)
	return tpl.RenderString(b)
}

// Render produces the message for one lead. Missing values render empty.
func (r *Renderer) Render(c campaign.Campaign, cl campaign.CampaignLead) (Message, error) {
	b := bindings(c, cl)
	subject, err := r.render(c.Subject, b)
	if err != nil {
		return Message{}, fmt.Errorf("render subject: %w", err)
	}
	body, err := r.render(c.Body, b)
	if err != nil {
		return Message{}, fmt.Errorf("render body: %w", err)
	}
	return Message{
		CampaignID: c.ID,
		LeadID:     cl.LeadID,
		To:         cl.Lead.Email,
		Subject:    subject,
		HTML:       body,
	}, nil
}
