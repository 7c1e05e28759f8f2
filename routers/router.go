package routers

import (
	"comic-studio-server/routers/api"

	"github.com/gin-gonic/gin"
)

func InitRouter() *gin.Engine {
	r := gin.Default()
	r.Static("/static", "./static")
	v1 := r.Group("/v1/api")
	{
		v1.POST("/projects", api.CreateProject)
		v1.GET("/projects", api.ListProjects)
		v1.GET("/projects/:project_id", api.GetProject)
		v1.PUT("/projects/:project_id", api.UpdateProject)
		v1.DELETE("/projects/:project_id", api.DeleteProject)
		v1.POST("/projects/:project_id/analyze", api.AnalyzeProject)
		v1.PUT("/projects/:project_id/style", api.UpdateProjectStyle)
		v1.PUT("/projects/:project_id/art-direction", api.UpdateArtDirection)
		v1.PUT("/projects/:project_id/model-settings", api.UpdateModelSettings)
		v1.POST("/projects/:project_id/merge", api.MergeProject)

		v1.POST("/projects/:project_id/assets", api.CreateAsset)
		v1.PUT("/projects/:project_id/assets/:asset_id", api.UpdateAsset)
		v1.DELETE("/projects/:project_id/assets/:asset_id", api.DeleteAsset)
		v1.PUT("/projects/:project_id/assets/:asset_id/lock", api.ToggleAssetLock)
		v1.POST("/projects/:project_id/assets/:asset_id/generate", api.GenerateAsset)
		v1.POST("/projects/:project_id/assets/:asset_id/video", api.CreateAssetVideo)
		v1.GET("/projects/:project_id/assets/:asset_id/generations", api.AssetGenerations)
		v1.POST("/projects/:project_id/assets/:asset_id/variants/select", api.SelectAssetVariant)
		v1.POST("/projects/:project_id/assets/:asset_id/variants/delete", api.DeleteAssetVariant)
		v1.POST("/projects/:project_id/assets/:asset_id/variants/favorite", api.FavoriteAssetVariant)

		v1.POST("/projects/:project_id/frames", api.CreateFrame)
		v1.PUT("/projects/:project_id/frames/reorder", api.ReorderFrames)
		v1.PUT("/projects/:project_id/frames/:frame_id", api.UpdateFrame)
		v1.DELETE("/projects/:project_id/frames/:frame_id", api.DeleteFrame)
		v1.POST("/projects/:project_id/frames/:frame_id/copy", api.CopyFrame)
		v1.PUT("/projects/:project_id/frames/:frame_id/lock", api.ToggleFrameLock)
		v1.POST("/projects/:project_id/frames/:frame_id/render", api.RenderFrame)
		v1.POST("/projects/:project_id/frames/:frame_id/audio", api.GenerateFrameAudio)
		v1.PUT("/projects/:project_id/frames/:frame_id/video", api.SelectFrameVideo)

		v1.POST("/projects/:project_id/video-tasks", api.CreateVideoTask)
		v1.GET("/projects/:project_id/video-tasks", api.ListVideoTasks)
		v1.DELETE("/projects/:project_id/video-tasks/:task_id", api.DeleteVideoTask)
		v1.GET("/video-tasks/:task_id", api.GetVideoTask)

		v1.POST("/upload", api.UploadFile)
	}
	r.GET("/video-tasks/:task_id/ws", api.VideoTaskProgressWebSocket)
	return r
}
