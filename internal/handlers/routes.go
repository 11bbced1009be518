package handlers

import (
	"github.com/gin-gonic/gin"
)

// RegisterFormRoutes mounts the disclosure and checklist endpoints on an
// authenticated router group.
func RegisterFormRoutes(group *gin.RouterGroup, disclosures, checklists *FormHandler) {
	d := group.Group("/disclosures")
	{
		d.GET("", disclosures.List)
		d.GET("/:id", disclosures.GetOrCreateByProperty)
		d.PUT("/:id", disclosures.Update)
		d.GET("/:id/document", disclosures.Get)
		d.PATCH("/:id/sections/:section", disclosures.AutoSave)
		d.GET("/:id/validation", disclosures.Validate)
		d.POST("/:id/complete", disclosures.Complete)
		d.POST("/:id/reopen", disclosures.Reopen)
		d.POST("/:id/sign", disclosures.Sign)
		d.POST("/:id/share", disclosures.Share)
		d.POST("/:id/acknowledge", disclosures.Acknowledge)
	}

	f := group.Group("/fsbo-checklists")
	{
		f.GET("", checklists.List)
		f.POST("", checklists.Create)
		f.GET("/:id", checklists.Get)
		f.PUT("/:id", checklists.Update)
		f.DELETE("/:id", checklists.Delete)
		f.PATCH("/:id/sections/:section", checklists.AutoSave)
		f.GET("/:id/validation", checklists.Validate)
		f.POST("/:id/complete", checklists.Complete)
		f.POST("/:id/reopen", checklists.Reopen)
	}
}
