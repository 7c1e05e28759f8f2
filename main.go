package main

import (
	"fmt"

	"comic-studio-server/config"
	"comic-studio-server/models"
	"comic-studio-server/routers"
	"comic-studio-server/service"
)

func main() {
	config.InitConfig()
	fmt.Println("Server starting on port", config.AppConfig.Server.Port)
	models.InitDB()
	fmt.Println("Database initialized")

	service.InitQueue()
	fmt.Println("Queue initialized")

	service.InitMinIO()
	fmt.Println("MinIO initialized")

	service.InitProjectCache()

	processor := service.NewProcessor(models.GormDB)
	processor.StartProcessor(5)

	service.InitVideoWatcher(models.GormDB)

	r := routers.InitRouter()
	r.Run(config.AppConfig.Server.Port)
}
